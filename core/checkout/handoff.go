package checkout

import (
	"context"
	"encoding/json"

	"github.com/alexedwards/scs/v2"
)

// HandoffState is the minimal state that has to survive the redirect to
// the payment provider and back: enough to re-associate the returning
// user with the in-flight session, nothing more. It is cleared exactly
// once when a checkout succeeds so that back-navigation cannot replay a
// finished flow.
type HandoffState struct {
	SessionID string `json:"sessionId"`
	AddressID string `json:"addressId"`
	Provider  string `json:"provider"`
}

type Handoff interface {
	Save(ctx context.Context, h HandoffState)
	Load(ctx context.Context) (HandoffState, bool)
	Clear(ctx context.Context)
}

const handoffKey = "checkout_handoff"

// SessionHandoff keeps the handoff state in the user's scs session
// cookie, tied to the browser that started the flow.
type SessionHandoff struct {
	Manager *scs.SessionManager
}

func (s *SessionHandoff) Save(ctx context.Context, h HandoffState) {
	data, err := json.Marshal(h)
	if err != nil {
		return
	}
	s.Manager.Put(ctx, handoffKey, string(data))
}

func (s *SessionHandoff) Load(ctx context.Context) (HandoffState, bool) {
	data := s.Manager.GetString(ctx, handoffKey)
	if data == "" {
		return HandoffState{}, false
	}

	var h HandoffState
	if err := json.Unmarshal([]byte(data), &h); err != nil {
		return HandoffState{}, false
	}

	return h, true
}

func (s *SessionHandoff) Clear(ctx context.Context) {
	s.Manager.Remove(ctx, handoffKey)
}
