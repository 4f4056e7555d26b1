package api

import (
	"context"

	"dsctrack/internal/identity"
	"dsctrack/internal/ledger"
	"dsctrack/internal/logs"
	"dsctrack/internal/models"
)

// RegisterUser creates a credential and the matching profile. It is shared by
// the users endpoint and the bootstrap-leader command.
func RegisterUser(ctx context.Context, ids *identity.Service, l *ledger.Ledger, email, password, name string, role models.Role) (*models.User, error) {
	subject, err := ids.Register(ctx, email, password)
	if err != nil {
		return nil, err
	}
	u, err := l.AddUser(ctx, subject, name, role)
	if err != nil {
		if rmErr := ids.Remove(context.WithoutCancel(ctx), subject); rmErr != nil {
			logs.Logger.WithField("subject", subject).WithError(rmErr).Warn("rollback of credential failed")
		}
		return nil, err
	}
	return u, nil
}
