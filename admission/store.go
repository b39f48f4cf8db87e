package admission

import (
	"context"

	"github.com/huytu0702/university-admission-portal-sub001/id"
	"github.com/huytu0702/university-admission-portal-sub001/outbox"
)

// Store defines the persistence contract for applications.
type Store interface {
	// SubmitApplication writes the application and appends the given
	// outbox messages in one atomic transaction. Either everything is
	// visible afterwards or nothing is; a duplicate application ID
	// returns portal.ErrApplicationAlreadyExists and writes nothing.
	SubmitApplication(ctx context.Context, app *Application, msgs []*outbox.Message) error

	// GetApplication retrieves an application by ID.
	GetApplication(ctx context.Context, appID id.ApplicationID) (*Application, error)

	// UpdateApplication persists changes to an existing application.
	UpdateApplication(ctx context.Context, app *Application) error

	// CountApplications returns the total number of stored applications.
	CountApplications(ctx context.Context) (int64, error)
}
