package remote

import (
	"context"

	"github.com/thebtf/supportdesk/pkg/models"
)

// Disabled is the local-only API used when the store is switched off.
// Every call fails with ErrDisabled without touching the network.
type Disabled struct{}

func disabled[T any]() Result[T] { return failed[T](ErrDisabled, 0) }

func (Disabled) SendMessage(context.Context, models.Message) Result[Empty] {
	return disabled[Empty]()
}

func (Disabled) GetChatHistory(context.Context, string) Result[[]models.Message] {
	return disabled[[]models.Message]()
}

func (Disabled) CreateSession(context.Context, *models.SessionRecord) Result[Empty] {
	return disabled[Empty]()
}

func (Disabled) UpdateSession(context.Context, SessionUpdate) Result[Empty] {
	return disabled[Empty]()
}

func (Disabled) UpdateSessionStatus(context.Context, string, models.SessionStatus) Result[Empty] {
	return disabled[Empty]()
}

func (Disabled) GetActiveSessions(context.Context) Result[[]SessionInfo] {
	return disabled[[]SessionInfo]()
}

func (Disabled) GetCustomerSessions(context.Context, string) Result[[]SessionInfo] {
	return disabled[[]SessionInfo]()
}

func (Disabled) AssignStaffToSession(context.Context, AssignRequest) Result[Assignment] {
	return disabled[Assignment]()
}

func (Disabled) SaveSessionHistory(context.Context, *models.SessionHistory) Result[Empty] {
	return disabled[Empty]()
}

var _ API = Disabled{}
