package bulk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dsctrack/internal/ledger"
	"dsctrack/internal/models"
	"dsctrack/internal/repo"
)

var expiry = time.Date(2030, 12, 31, 0, 0, 0, 0, time.UTC)

// seed: Alice holds SN-1, SN-2 is with a client, SN-3 is in storage.
func seed(t *testing.T) *repo.MemoryStore {
	t.Helper()
	s := repo.NewMemoryStore()
	l := ledger.New(s)
	ctx := context.Background()
	_, err := l.AddUser(ctx, "u-alice", "Alice", models.RoleEmployee)
	require.NoError(t, err)
	_, err = l.AddUser(ctx, "u-bob", "Bob", models.RoleLeader)
	require.NoError(t, err)
	ids := make([]string, 0, 3)
	for i := 1; i <= 3; i++ {
		d, err := l.AddDSC(ctx, ledger.DSCInput{
			SerialNumber: fmt.Sprintf("SN-%d", i),
			Description:  fmt.Sprintf("token %d", i),
			ExpiryDate:   expiry,
			Location:     models.Location{MainBox: i, SubBox: "b"},
		})
		require.NoError(t, err)
		ids = append(ids, d.ID)
	}
	_, err = l.TakeByEmployee(ctx, ids[0], "u-alice")
	require.NoError(t, err)
	_, err = l.AssignToClient(ctx, ids[1], "Acme Corp", "project X")
	require.NoError(t, err)
	return s
}

func snapshotOf(t *testing.T, s repo.Store) ([]models.User, []models.DSC) {
	t.Helper()
	ctx := context.Background()
	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	dscs, err := s.ListDSCs(ctx, repo.DSCFilter{})
	require.NoError(t, err)
	return users, dscs
}

func TestJSONRoundTrip(t *testing.T) {
	src := seed(t)
	ctx := context.Background()

	var buf bytes.Buffer
	require.NoError(t, New(src).ExportJSON(ctx, &buf))

	var doc Backup
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	require.Len(t, doc.Users, 2)
	require.Len(t, doc.DSCs, 3)
	assert.Equal(t, "2030-12-31", doc.DSCs[0].ExpiryDate)

	dst := repo.NewMemoryStore()
	sum, err := New(dst, WithBatchSize(1)).ImportJSON(ctx, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Users)
	assert.Equal(t, 3, sum.DSCs)
	assert.Empty(t, sum.Warnings)

	wantUsers, wantDSCs := snapshotOf(t, src)
	gotUsers, gotDSCs := snapshotOf(t, dst)
	require.Len(t, gotDSCs, len(wantDSCs))
	for i := range wantDSCs {
		w, g := wantDSCs[i], gotDSCs[i]
		assert.Equal(t, w.ID, g.ID)
		assert.Equal(t, w.SerialNumber, g.SerialNumber)
		assert.Equal(t, w.Status, g.Status)
		assert.Equal(t, w.CurrentHolderID, g.CurrentHolderID)
		assert.Equal(t, w.ClientName, g.ClientName)
		assert.Equal(t, w.Location, g.Location)
		assert.True(t, w.ExpiryDate.Equal(g.ExpiryDate))
	}
	require.Len(t, gotUsers, len(wantUsers))
	for i := range wantUsers {
		assert.Equal(t, wantUsers[i].ID, gotUsers[i].ID)
		assert.Equal(t, wantUsers[i].HasDSC, gotUsers[i].HasDSC)
	}
	require.NoError(t, ledger.CheckHolding(gotUsers, gotDSCs))
}

func TestImportJSON_ReplacesExistingData(t *testing.T) {
	dst := seed(t)
	ctx := context.Background()
	doc := `{"users":[{"id":"u9","name":"Zoe","role":"employee","hasDsc":false}],
	         "dscs":[{"id":"d9","serialNumber":"NEW-1","description":"","expiryDate":"2031-01-01","status":"storage","location":{"mainBox":8,"subBox":"i"}}]}`

	_, err := New(dst, WithBatchSize(2)).ImportJSON(ctx, strings.NewReader(doc))
	require.NoError(t, err)

	users, dscs := snapshotOf(t, dst)
	require.Len(t, users, 1)
	assert.Equal(t, "Zoe", users[0].Name)
	require.Len(t, dscs, 1)
	assert.Equal(t, "NEW-1", dscs[0].SerialNumber)
}

func TestImportJSON_RecomputesHasDsc(t *testing.T) {
	dst := repo.NewMemoryStore()
	doc := `{"users":[{"id":"u1","name":"A","role":"employee","hasDsc":false},
	                  {"id":"u2","name":"B","role":"employee","hasDsc":true}],
	         "dscs":[{"id":"d1","serialNumber":"S1","description":"","expiryDate":"2031-01-01","status":"with-employee","currentHolderId":"u1"}]}`

	sum, err := New(dst).ImportJSON(context.Background(), strings.NewReader(doc))
	require.NoError(t, err)
	assert.Len(t, sum.Warnings, 2)

	users, dscs := snapshotOf(t, dst)
	require.NoError(t, ledger.CheckHolding(users, dscs))
	assert.True(t, users[0].HasDSC)
	assert.False(t, users[1].HasDSC)
}

func TestImportJSON_ValidationAbortsBeforeWriting(t *testing.T) {
	cases := map[string]string{
		"unknown holder": `{"users":[],"dscs":[{"id":"d1","serialNumber":"S1","expiryDate":"2031-01-01","status":"with-employee","currentHolderId":"ghost"}]}`,
		"dup serial": `{"users":[],"dscs":[
			{"id":"d1","serialNumber":"S1","expiryDate":"2031-01-01","status":"storage","location":{"mainBox":1,"subBox":"a"}},
			{"id":"d2","serialNumber":"S1","expiryDate":"2031-01-01","status":"storage","location":{"mainBox":1,"subBox":"a"}}]}`,
		"two dscs one holder": `{"users":[{"id":"u1","name":"A","role":"employee","hasDsc":true}],"dscs":[
			{"id":"d1","serialNumber":"S1","expiryDate":"2031-01-01","status":"with-employee","currentHolderId":"u1"},
			{"id":"d2","serialNumber":"S2","expiryDate":"2031-01-01","status":"with-employee","currentHolderId":"u1"}]}`,
		"storage without location": `{"users":[],"dscs":[{"id":"d1","serialNumber":"S1","expiryDate":"2031-01-01","status":"storage"}]}`,
		"client without name":      `{"users":[],"dscs":[{"id":"d1","serialNumber":"S1","expiryDate":"2031-01-01","status":"with-client"}]}`,
		"bad date":                 `{"users":[],"dscs":[{"id":"d1","serialNumber":"S1","expiryDate":"31/01/2031","status":"storage","location":{"mainBox":1,"subBox":"a"}}]}`,
		"bad role":                 `{"users":[{"id":"u1","name":"A","role":"boss"}],"dscs":[]}`,
		"dup user name":            `{"users":[{"id":"u1","name":"A","role":"employee"},{"id":"u2","name":"A","role":"employee"}],"dscs":[]}`,
		"unknown field":            `{"users":[],"dscs":[],"extra":1}`,
		"not json":                 `users,dscs`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			dst := seed(t)
			beforeUsers, beforeDSCs := snapshotOf(t, dst)

			_, err := New(dst).ImportJSON(context.Background(), strings.NewReader(doc))
			require.ErrorIs(t, err, ErrInvalidInput)
			var ie *InputError
			require.ErrorAs(t, err, &ie)
			assert.NotEmpty(t, ie.Problems)

			afterUsers, afterDSCs := snapshotOf(t, dst)
			assert.Equal(t, beforeUsers, afterUsers)
			assert.Equal(t, beforeDSCs, afterDSCs)
		})
	}
}

func TestDSCsCSVRoundTrip(t *testing.T) {
	src := seed(t)
	ctx := context.Background()

	var buf bytes.Buffer
	require.NoError(t, New(src).ExportDSCsCSV(ctx, &buf))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "serialNumber,description,expiryDate,currentHolderName,locationMainBox,locationSubBox", lines[0])
	assert.Equal(t, "SN-1,token 1,2030-12-31,Alice,1,b", lines[1])
	assert.Equal(t, "SN-3,token 3,2030-12-31,,3,b", lines[3])

	// re-import into the same store: users stay, dscs are rebuilt
	sum, err := New(src, WithBatchSize(2)).ImportDSCsCSV(ctx, bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, 3, sum.DSCs)

	users, dscs := snapshotOf(t, src)
	require.NoError(t, ledger.CheckHolding(users, dscs))
	require.Len(t, dscs, 3)
	assert.Equal(t, models.StatusWithEmployee, dscs[0].Status)
	assert.Equal(t, "u-alice", *dscs[0].CurrentHolderID)
	// client custody is not part of the CSV columns
	assert.Equal(t, models.StatusStorage, dscs[1].Status)
	assert.Equal(t, models.Location{MainBox: 2, SubBox: "b"}, dscs[1].Location)
}

func TestImportDSCsCSV_Errors(t *testing.T) {
	header := "serialNumber,description,expiryDate,currentHolderName,locationMainBox,locationSubBox\n"
	cases := map[string]string{
		"missing column": "serialNumber,description,expiryDate\nS1,x,2031-01-01\n",
		"unknown holder": header + "S1,x,2031-01-01,Nobody,1,a\n",
		"dup serial":     header + "S1,x,2031-01-01,,1,a\nS1,y,2031-01-01,,2,a\n",
		"holder twice":   header + "S1,x,2031-01-01,Alice,,\nS2,y,2031-01-01,Alice,,\n",
		"bad box":        header + "S1,x,2031-01-01,,nine,a\n",
		"box out range":  header + "S1,x,2031-01-01,,9,a\n",
		"bad sub box":    header + "S1,x,2031-01-01,,1,z\n",
		"bad date":       header + "S1,x,tomorrow,,1,a\n",
		"no location":    header + "S1,x,2031-01-01,,,\n",
		"empty":          "",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			dst := seed(t)
			_, before := snapshotOf(t, dst)

			_, err := New(dst).ImportDSCsCSV(context.Background(), strings.NewReader(body))
			require.ErrorIs(t, err, ErrInvalidInput)

			_, after := snapshotOf(t, dst)
			assert.Equal(t, before, after)
		})
	}
}

func TestImportDSCsCSV_RowNumbersAreFileLines(t *testing.T) {
	header := "serialNumber,description,expiryDate,currentHolderName,locationMainBox,locationSubBox\n"
	body := header +
		"S1,\"two\nlines\",2031-01-01,,1,a\n" +
		"S1,y,2031-01-01,,2,a\n" +
		"S2,z,2031-01-01,,,\n"

	_, err := New(seed(t)).ImportDSCsCSV(context.Background(), strings.NewReader(body))
	var ie *InputError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, []string{
		`row 4: serialNumber "S1" already on row 2`,
		"row 5: location is required in storage",
	}, ie.Problems)
}

func TestImportJSON_HeldDSCsWithBadLocationCanReturn(t *testing.T) {
	dst := repo.NewMemoryStore()
	doc := `{"users":[{"id":"u1","name":"A","role":"employee","hasDsc":true}],
	         "dscs":[{"id":"d1","serialNumber":"S1","expiryDate":"2031-01-01","status":"with-employee","currentHolderId":"u1","location":{"mainBox":0,"subBox":""}},
	                 {"id":"d2","serialNumber":"S2","expiryDate":"2031-01-01","status":"with-client","clientName":"Acme","location":{"mainBox":9,"subBox":"z"}}]}`

	_, err := New(dst).ImportJSON(context.Background(), strings.NewReader(doc))
	require.NoError(t, err)

	ctx := context.Background()
	l := ledger.New(dst)
	back, err := l.ReturnByEmployee(ctx, "d1", "u1")
	require.NoError(t, err)
	assert.Equal(t, models.Location{MainBox: 1, SubBox: "a"}, back.Location)
	back, err = l.ReturnFromClient(ctx, "d2")
	require.NoError(t, err)
	assert.Equal(t, models.Location{MainBox: 1, SubBox: "a"}, back.Location)

	require.NoError(t, l.DeleteDSC(ctx, "d1"))
	require.NoError(t, l.DeleteDSC(ctx, "d2"))
}

func TestImportJSON_KeepLeader(t *testing.T) {
	cases := map[string]string{
		"account missing": `{"users":[{"id":"u-alice","name":"Alice","role":"employee"}],"dscs":[]}`,
		"account demoted": `{"users":[{"id":"u-bob","name":"Bob","role":"employee"}],"dscs":[]}`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			dst := seed(t)
			beforeUsers, _ := snapshotOf(t, dst)

			_, err := New(dst).ImportJSON(context.Background(), strings.NewReader(doc), KeepLeader("u-bob"))
			require.ErrorIs(t, err, ErrInvalidInput)

			afterUsers, _ := snapshotOf(t, dst)
			assert.Equal(t, beforeUsers, afterUsers)
		})
	}

	dst := seed(t)
	doc := `{"users":[{"id":"u-bob","name":"Bob","role":"leader"}],"dscs":[]}`
	_, err := New(dst).ImportJSON(context.Background(), strings.NewReader(doc), KeepLeader("u-bob"))
	require.NoError(t, err)
}

func TestImportDSCsCSV_HeaderOrderAndBlankRows(t *testing.T) {
	dst := seed(t)
	body := "\ufeffLocationSubBox,locationMainBox,serialNumber,description,expiryDate,currentHolderName\n" +
		"c,4,X-1,first,2031-05-05,\n" +
		",,,,,\n" +
		"d,5,X-2,second,2031-05-06,Bob\n"

	sum, err := New(dst).ImportDSCsCSV(context.Background(), strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, 2, sum.DSCs)

	users, dscs := snapshotOf(t, dst)
	require.NoError(t, ledger.CheckHolding(users, dscs))
	assert.Equal(t, models.Location{MainBox: 4, SubBox: "c"}, dscs[0].Location)
	assert.Equal(t, models.StatusWithEmployee, dscs[1].Status)
	for _, u := range users {
		assert.Equal(t, u.Name == "Bob", u.HasDSC, u.Name)
	}
}

func TestUsersCSV(t *testing.T) {
	src := seed(t)
	var buf bytes.Buffer
	require.NoError(t, New(src).ExportUsersCSV(context.Background(), &buf))
	assert.Equal(t, "name,role\nAlice,employee\nBob,leader\n", buf.String())

	_, err := New(src).ImportUsersCSV(context.Background(), strings.NewReader(buf.String()))
	assert.ErrorIs(t, err, ErrUserImportDisabled)
}
