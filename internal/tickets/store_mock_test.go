package tickets

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/guildticket/guildticket/internal/shared"
)

type mockGuild struct {
	settings GuildSettings
	counter  int64
}

type mockState struct {
	guilds       map[string]mockGuild
	tickets      map[int64]Ticket
	participants map[int64][]string
	events       []Event
	nextTicket   int64
	nextEvent    int64
}

func (s *mockState) clone() *mockState {
	out := &mockState{
		guilds:       maps.Clone(s.guilds),
		tickets:      maps.Clone(s.tickets),
		participants: make(map[int64][]string, len(s.participants)),
		events:       slices.Clone(s.events),
		nextTicket:   s.nextTicket,
		nextEvent:    s.nextEvent,
	}
	for k, v := range s.participants {
		out.participants[k] = slices.Clone(v)
	}
	return out
}

// mockStore serialises transactions behind one lock and commits a staged
// copy only when fn succeeds, mirroring row locks plus rollback.
type mockStore struct {
	mu         sync.Mutex
	state      *mockState
	txCount    int
	failAppend error
}

func newMockStore(guilds ...GuildSettings) *mockStore {
	st := &mockState{
		guilds:       map[string]mockGuild{},
		tickets:      map[int64]Ticket{},
		participants: map[int64][]string{},
	}
	for _, g := range guilds {
		st.guilds[g.ID] = mockGuild{settings: g}
	}
	return &mockStore{state: st}
}

func (m *mockStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txCount++
	staged := m.state.clone()
	if err := fn(ctx, &mockTx{st: staged, store: m}); err != nil {
		return err
	}
	m.state = staged
	return nil
}

func (m *mockStore) GetTicket(ctx context.Context, id int64) (Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.state.tickets[id]
	if !ok {
		return Ticket{}, shared.NewNotFound("ticket", id)
	}
	return t, nil
}

func (m *mockStore) ListEvents(ctx context.Context, ticketID int64) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.state.events {
		if e.TicketID == ticketID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (m *mockStore) ListDueForAutoClose(ctx context.Context, now time.Time, limit int) ([]Ticket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Ticket
	for _, t := range m.state.tickets {
		if t.DueForAutoClose(now) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockStore) eventsFor(ticketID int64, action Action) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.state.events {
		if e.TicketID == ticketID && (action == "" || e.Action == action) {
			out = append(out, e)
		}
	}
	return out
}

type mockTx struct {
	st    *mockState
	store *mockStore
}

func (tx *mockTx) LockGuild(ctx context.Context, guildID string) (GuildSettings, error) {
	g, ok := tx.st.guilds[guildID]
	if !ok {
		return GuildSettings{}, shared.NewNotFound("guild", guildID)
	}
	return g.settings, nil
}

func (tx *mockTx) CountOpenTickets(ctx context.Context, guildID, openerID string) (int, error) {
	n := 0
	for _, t := range tx.st.tickets {
		if t.GuildID == guildID && t.OpenerID == openerID && t.Status != StatusClosed {
			n++
		}
	}
	return n, nil
}

func (tx *mockTx) NextTicketNumber(ctx context.Context, guildID string) (int64, error) {
	g, ok := tx.st.guilds[guildID]
	if !ok {
		return 0, shared.NewNotFound("guild", guildID)
	}
	g.counter++
	tx.st.guilds[guildID] = g
	return g.counter, nil
}

func (tx *mockTx) InsertTicket(ctx context.Context, t Ticket) (Ticket, error) {
	for _, existing := range tx.st.tickets {
		if existing.GuildID == t.GuildID && existing.Number == t.Number {
			return Ticket{}, fmt.Errorf("number taken: %w", shared.ErrConflict)
		}
	}
	tx.st.nextTicket++
	t.ID = tx.st.nextTicket
	tx.st.tickets[t.ID] = t
	return t, nil
}

func (tx *mockTx) AddParticipant(ctx context.Context, ticketID int64, userID string) error {
	if !slices.Contains(tx.st.participants[ticketID], userID) {
		tx.st.participants[ticketID] = append(tx.st.participants[ticketID], userID)
	}
	return nil
}

func (tx *mockTx) LockTicket(ctx context.Context, id int64) (Ticket, error) {
	t, ok := tx.st.tickets[id]
	if !ok {
		return Ticket{}, shared.NewNotFound("ticket", id)
	}
	return t, nil
}

func (tx *mockTx) UpdateTicket(ctx context.Context, t Ticket, expected Status) (Ticket, error) {
	current, ok := tx.st.tickets[t.ID]
	if !ok {
		return Ticket{}, shared.NewNotFound("ticket", t.ID)
	}
	if current.Status != expected {
		return Ticket{}, shared.ErrConflict
	}
	if (t.Status == StatusClaimed) != (t.ClaimedByID != nil) {
		return Ticket{}, errors.New("check constraint: claimed_by_id iff CLAIMED")
	}
	tx.st.tickets[t.ID] = t
	return t, nil
}

func (tx *mockTx) AppendEvent(ctx context.Context, e Event) (Event, error) {
	if tx.store.failAppend != nil {
		return Event{}, tx.store.failAppend
	}
	tx.st.nextEvent++
	e.ID = tx.st.nextEvent
	tx.st.events = append(tx.st.events, e)
	return e, nil
}
