package bulk

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"dsctrack/internal/ledger"
	"dsctrack/internal/models"
	"dsctrack/internal/repo"
)

var (
	DSCColumns  = []string{"serialNumber", "description", "expiryDate", "currentHolderName", "locationMainBox", "locationSubBox"}
	UserColumns = []string{"name", "role"}
)

func (s *Service) ExportDSCsCSV(ctx context.Context, w io.Writer) error {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	names := make(map[string]string, len(users))
	for _, u := range users {
		names[u.ID] = u.Name
	}
	dscs, err := s.store.ListDSCs(ctx, repo.DSCFilter{})
	if err != nil {
		return fmt.Errorf("list dscs: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(DSCColumns); err != nil {
		return err
	}
	for _, d := range dscs {
		holder := ""
		if d.CurrentHolderID != nil {
			holder = names[*d.CurrentHolderID]
		}
		rec := []string{
			d.SerialNumber,
			d.Description,
			d.ExpiryDate.UTC().Format(models.DateLayout),
			holder,
			strconv.Itoa(d.Location.MainBox),
			d.Location.SubBox,
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func (s *Service) ExportUsersCSV(ctx context.Context, w io.Writer) error {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(UserColumns); err != nil {
		return err
	}
	for _, u := range users {
		if err := cw.Write([]string{u.Name, string(u.Role)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ImportUsersCSV is refused: users need a credential, which only the
// registration path creates.
func (s *Service) ImportUsersCSV(context.Context, io.Reader) (*Summary, error) {
	return nil, ErrUserImportDisabled
}

// ImportDSCsCSV replaces the DSC collection. A row with currentHolderName is
// imported as taken by that existing user, any other row goes to storage at
// the given location.
func (s *Service) ImportDSCsCSV(ctx context.Context, r io.Reader) (*Summary, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	byName := make(map[string]string, len(users))
	for _, u := range users {
		byName[u.Name] = u.ID
	}

	dscs, err := s.parseDSCsCSV(r, byName)
	if err != nil {
		return nil, err
	}
	if err := s.replaceDSCs(ctx, dscs); err != nil {
		return nil, err
	}
	if err := s.store.SyncHoldingFlags(ctx); err != nil {
		return nil, fmt.Errorf("sync holding flags: %w", err)
	}
	return &Summary{DSCs: len(dscs)}, nil
}

func (s *Service) parseDSCsCSV(r io.Reader, byName map[string]string) ([]models.DSC, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &InputError{Problems: []string{"empty file"}}
	}
	if err != nil {
		return nil, &InputError{Problems: []string{"read header: " + err.Error()}}
	}
	col, err := columnIndex(header, DSCColumns)
	if err != nil {
		return nil, err
	}

	var bad problems
	var out []models.DSC
	serials := map[string]int{}
	holders := map[string]int{}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// *csv.ParseError уже содержит номер строки
			bad.addf("%v", err)
			break
		}
		// физическая строка начала записи: поле в кавычках может занимать несколько строк
		line, _ := cr.FieldPos(0)
		field := func(name string) string {
			if i := col[name]; i < len(rec) {
				return strings.TrimSpace(rec[i])
			}
			return ""
		}
		if strings.Join(rec, "") == "" {
			continue
		}

		d := models.DSC{
			ID:           s.newID(),
			SerialNumber: field("serialNumber"),
			Description:  field("description"),
			Status:       models.StatusStorage,
		}
		if d.SerialNumber == "" {
			bad.addf("row %d: serialNumber is required", line)
		} else if prev, dup := serials[d.SerialNumber]; dup {
			bad.addf("row %d: serialNumber %q already on row %d", line, d.SerialNumber, prev)
		} else {
			serials[d.SerialNumber] = line
		}
		exp, err := parseExpiry(field("expiryDate"))
		if err != nil {
			bad.addf("row %d: %v", line, err)
		}
		d.ExpiryDate = exp

		boxStr, sub := field("locationMainBox"), strings.ToLower(field("locationSubBox"))
		hasLocation := boxStr != "" || sub != ""
		if hasLocation {
			box, err := strconv.Atoi(boxStr)
			if err != nil {
				bad.addf("row %d: locationMainBox %q is not a number", line, boxStr)
			}
			d.Location = models.Location{MainBox: box, SubBox: sub}
		}

		if holderName := field("currentHolderName"); holderName != "" {
			id, ok := byName[holderName]
			switch {
			case !ok:
				bad.addf("row %d: unknown holder %q", line, holderName)
			case holders[id] != 0:
				bad.addf("row %d: %s already holds the dsc on row %d", line, holderName, holders[id])
			default:
				holders[id] = line
				d.Status = models.StatusWithEmployee
				d.CurrentHolderID = &id
			}
		}
		// a taken dsc keeps its slot only as a hint, storage rows must have a valid one
		switch {
		case d.Status == models.StatusWithEmployee && !d.Location.Valid():
			d.Location = models.Location{MainBox: models.MinMainBox, SubBox: "a"}
		case d.Status == models.StatusStorage && !hasLocation:
			bad.addf("row %d: location is required in storage", line)
		default:
			if err := ledger.CheckDSC(&d); err != nil {
				bad.addf("row %d: %v", line, err)
			}
		}
		out = append(out, d)
	}
	if err := bad.err(); err != nil {
		return nil, err
	}
	return out, nil
}

func columnIndex(header, want []string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	out := make(map[string]int, len(want))
	var bad problems
	for _, w := range want {
		i, ok := idx[strings.ToLower(w)]
		if !ok {
			bad.addf("missing column %q", w)
			continue
		}
		out[w] = i
	}
	if err := bad.err(); err != nil {
		return nil, err
	}
	return out, nil
}
