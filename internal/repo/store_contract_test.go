package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dsctrack/internal/models"
)

func strPtr(s string) *string { return &s }

func sampleDSC(id, serial string) models.DSC {
	return models.DSC{
		ID:           id,
		SerialNumber: serial,
		Description:  "token " + serial,
		ExpiryDate:   time.Date(2030, 1, 15, 0, 0, 0, 0, time.UTC),
		Location:     models.Location{MainBox: 1, SubBox: "a"},
		Status:       models.StatusStorage,
	}
}

// runStoreContract checks behaviour every Store backend must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("commit persists", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		err := s.RunAtomic(ctx, func(tx Tx) error {
			if err := tx.SaveUser(ctx, &models.User{ID: "u1", Name: "Alice", Role: models.RoleEmployee}); err != nil {
				return err
			}
			d := sampleDSC("d1", "SN-1")
			return tx.SaveDSC(ctx, &d)
		})
		require.NoError(t, err)

		got, err := s.GetDSC(ctx, "d1")
		require.NoError(t, err)
		assert.Equal(t, "SN-1", got.SerialNumber)
		assert.Equal(t, models.Location{MainBox: 1, SubBox: "a"}, got.Location)
		assert.False(t, got.CreatedAt.IsZero())

		u, err := s.GetUser(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, "Alice", u.Name)
	})

	t.Run("error rolls back", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		boom := errors.New("boom")

		err := s.RunAtomic(ctx, func(tx Tx) error {
			d := sampleDSC("d1", "SN-1")
			if err := tx.SaveDSC(ctx, &d); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		_, err = s.GetDSC(ctx, "d1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("unique serial number", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.RunAtomic(ctx, func(tx Tx) error {
			d := sampleDSC("d1", "SN-1")
			return tx.SaveDSC(ctx, &d)
		}))

		err := s.RunAtomic(ctx, func(tx Tx) error {
			d := sampleDSC("d2", "SN-1")
			return tx.SaveDSC(ctx, &d)
		})
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("one dsc per holder", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.RunAtomic(ctx, func(tx Tx) error {
			a := sampleDSC("d1", "SN-1")
			a.Status = models.StatusWithEmployee
			a.CurrentHolderID = strPtr("u1")
			if err := tx.SaveDSC(ctx, &a); err != nil {
				return err
			}
			b := sampleDSC("d2", "SN-2")
			return tx.SaveDSC(ctx, &b)
		}))

		err := s.RunAtomic(ctx, func(tx Tx) error {
			b, err := tx.GetDSC(ctx, "d2")
			if err != nil {
				return err
			}
			b.Status = models.StatusWithEmployee
			b.CurrentHolderID = strPtr("u1")
			return tx.SaveDSC(ctx, b)
		})
		assert.ErrorIs(t, err, ErrConflict)

		got, err := s.GetDSC(ctx, "d2")
		require.NoError(t, err)
		assert.Nil(t, got.CurrentHolderID)
	})

	t.Run("find by serial and holder", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.RunAtomic(ctx, func(tx Tx) error {
			d := sampleDSC("d1", "SN-1")
			d.Status = models.StatusWithEmployee
			d.CurrentHolderID = strPtr("u1")
			return tx.SaveDSC(ctx, &d)
		}))

		require.NoError(t, s.RunAtomic(ctx, func(tx Tx) error {
			bySerial, err := tx.FindDSCBySerial(ctx, "SN-1")
			require.NoError(t, err)
			assert.Equal(t, "d1", bySerial.ID)

			byHolder, err := tx.FindDSCByHolder(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, "d1", byHolder.ID)

			_, err = tx.FindDSCByHolder(ctx, "nobody")
			assert.ErrorIs(t, err, ErrNotFound)
			return nil
		}))
	})

	t.Run("delete missing", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		err := s.RunAtomic(ctx, func(tx Tx) error { return tx.DeleteDSC(ctx, "nope") })
		assert.ErrorIs(t, err, ErrNotFound)
		err = s.RunAtomic(ctx, func(tx Tx) error { return tx.DeleteUser(ctx, "nope") })
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("list filters", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		a := sampleDSC("d1", "SN-B")
		b := sampleDSC("d2", "SN-A")
		b.Description = "Finance token"
		b.Status = models.StatusWithClient
		b.ClientName = strPtr("ACME")
		require.NoError(t, s.InsertDSCs(ctx, []models.DSC{a, b}))

		all, err := s.ListDSCs(ctx, DSCFilter{})
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "SN-A", all[0].SerialNumber)

		withClient, err := s.ListDSCs(ctx, DSCFilter{Status: models.StatusWithClient})
		require.NoError(t, err)
		require.Len(t, withClient, 1)
		assert.Equal(t, "ACME", *withClient[0].ClientName)

		byQuery, err := s.ListDSCs(ctx, DSCFilter{Query: "finance"})
		require.NoError(t, err)
		require.Len(t, byQuery, 1)
		assert.Equal(t, "d2", byQuery[0].ID)
	})

	t.Run("bulk replace and sync flags", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.InsertUsers(ctx, []models.User{
			{ID: "u1", Name: "Alice", Role: models.RoleEmployee, HasDSC: true},
			{ID: "u2", Name: "Bob", Role: models.RoleLeader, HasDSC: false},
			{ID: "u3", Name: "Carol", Role: models.RoleEmployee},
		}))
		held := sampleDSC("d1", "SN-1")
		held.Status = models.StatusWithEmployee
		held.CurrentHolderID = strPtr("u2")
		require.NoError(t, s.InsertDSCs(ctx, []models.DSC{held, sampleDSC("d2", "SN-2")}))

		require.NoError(t, s.SyncHoldingFlags(ctx))
		users, err := s.ListUsers(ctx)
		require.NoError(t, err)
		flags := map[string]bool{}
		for _, u := range users {
			flags[u.ID] = u.HasDSC
		}
		assert.Equal(t, map[string]bool{"u1": false, "u2": true, "u3": false}, flags)

		n, err := s.DeleteDSCPage(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		n, err = s.DeleteDSCPage(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		n, err = s.DeleteDSCPage(ctx, 10)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		n, err = s.DeleteUserPage(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		rest, err := s.ListUsers(ctx)
		require.NoError(t, err)
		assert.Len(t, rest, 1)
	})

	t.Run("insert conflict", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		err := s.InsertDSCs(ctx, []models.DSC{sampleDSC("d1", "SN-1"), sampleDSC("d2", "SN-1")})
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("audit newest first", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
		for i, action := range []models.AuditAction{models.ActionAddDSC, models.ActionTake, models.ActionReturn} {
			require.NoError(t, s.AppendAudit(ctx, &models.AuditLog{
				ID:              string(rune('a' + i)),
				Timestamp:       base.Add(time.Duration(i) * time.Minute),
				UserID:          "u1",
				UserName:        "Alice",
				Action:          action,
				DSCSerialNumber: "SN-1",
			}))
		}

		logs, err := s.ListAuditLogs(ctx, 2)
		require.NoError(t, err)
		require.Len(t, logs, 2)
		assert.Equal(t, models.ActionReturn, logs[0].Action)
		assert.Equal(t, models.ActionTake, logs[1].Action)

		all, err := s.ListAuditLogs(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})

	t.Run("credentials", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		c := &models.Credential{Subject: "u1", Email: "alice@example.com", Salt: []byte("salt"), PasswordHash: []byte("hash")}
		require.NoError(t, s.CreateCredential(ctx, c))

		dup := &models.Credential{Subject: "u2", Email: "alice@example.com", Salt: []byte("s"), PasswordHash: []byte("h")}
		assert.ErrorIs(t, s.CreateCredential(ctx, dup), ErrConflict)

		got, err := s.CredentialByEmail(ctx, "alice@example.com")
		require.NoError(t, err)
		assert.Equal(t, "u1", got.Subject)
		assert.Equal(t, []byte("hash"), got.PasswordHash)

		require.NoError(t, s.DeleteCredential(ctx, "u1"))
		_, err = s.CredentialByEmail(ctx, "alice@example.com")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, newStore(t).Ping(context.Background()))
	})
}
