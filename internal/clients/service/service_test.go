package service

import (
	"context"
	"strings"
	"sync"
	"testing"

	"pipeline_backend/internal/authz"
	"pipeline_backend/internal/clients/repository"
	"pipeline_backend/internal/clients/transport"
	"pipeline_backend/internal/events"
	leadsdomain "pipeline_backend/internal/leads/domain"
	"pipeline_backend/platform/apperr"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type fakeLead struct {
	state    string
	clientID *uuid.UUID
}

// fakeRepo reproduces the conversion transaction's all-or-nothing behavior:
// a duplicate email aborts before either the client row or the lead's
// client_id stamp exists.
type fakeRepo struct {
	mu      sync.Mutex
	leads   map[uuid.UUID]*fakeLead
	clients map[uuid.UUID]repository.Client
	emails  map[string]bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		leads:   make(map[uuid.UUID]*fakeLead),
		clients: make(map[uuid.UUID]repository.Client),
		emails:  make(map[string]bool),
	}
}

func (f *fakeRepo) addLead(id uuid.UUID, state string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leads[id] = &fakeLead{state: state}
}

func (f *fakeRepo) ConvertLead(_ context.Context, leadID uuid.UUID, params repository.CreateClientParams) (repository.Client, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	lead, ok := f.leads[leadID]
	if !ok {
		return repository.Client{}, "", repository.ErrLeadNotFound
	}
	if lead.clientID != nil {
		return repository.Client{}, "", repository.ErrAlreadyConverted
	}
	if !leadsdomain.IsConversionEligible(lead.state) {
		return repository.Client{}, "", repository.ErrNotEligible
	}
	if f.emails[params.Email] {
		return repository.Client{}, "", repository.ErrDuplicateEmail
	}

	client := repository.Client{
		ID:           uuid.New(),
		LeadID:       leadID,
		Name:         params.Name,
		Email:        params.Email,
		Phone:        params.Phone,
		PasswordHash: params.PasswordHash,
	}
	f.clients[client.ID] = client
	f.emails[params.Email] = true
	lead.clientID = &client.ID
	return client, lead.state, nil
}

func (f *fakeRepo) GetByID(_ context.Context, id uuid.UUID) (repository.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	client, ok := f.clients[id]
	if !ok {
		return repository.Client{}, repository.ErrClientNotFound
	}
	return client, nil
}

func (f *fakeRepo) List(_ context.Context, _ repository.ListParams) ([]repository.Client, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]repository.Client, 0, len(f.clients))
	for _, client := range f.clients {
		out = append(out, client)
	}
	return out, len(out), nil
}

func (f *fakeRepo) UpdateDeliveryProgress(_ context.Context, id uuid.UUID, progress int) (repository.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	client, ok := f.clients[id]
	if !ok {
		return repository.Client{}, repository.ErrClientNotFound
	}
	client.DeliveryProgress = progress
	f.clients[id] = client
	return client, nil
}

type nopBus struct{}

func (nopBus) Publish(context.Context, events.Event)           {}
func (nopBus) PublishSync(context.Context, events.Event) error { return nil }
func (nopBus) Subscribe(string, events.Handler)                {}

type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(_ context.Context, e events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *recordingBus) PublishSync(ctx context.Context, e events.Event) error {
	b.Publish(ctx, e)
	return nil
}

func (b *recordingBus) Subscribe(string, events.Handler) {}

func closer() authz.Actor {
	return authz.NewActor(uuid.New(), authz.CapLeadsConvert, authz.CapClientsView)
}

func draft(email string) transport.ConvertLeadRequest {
	return transport.ConvertLeadRequest{
		Name:     "Lena Ortiz",
		Email:    email,
		Password: "correct horse battery",
	}
}

func TestConvertEligibleLead(t *testing.T) {
	repo := newFakeRepo()
	bus := &recordingBus{}
	svc := New(repo, bus)
	ctx := context.Background()

	leadID := uuid.New()
	repo.addLead(leadID, leadsdomain.StateDeposit)

	client, err := svc.Convert(ctx, closer(), leadID, draft("lena@example.com"))
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	if client.LeadID != leadID {
		t.Fatalf("client.LeadID = %s, want %s", client.LeadID, leadID)
	}

	lead := repo.leads[leadID]
	if lead.clientID == nil || *lead.clientID != client.ID {
		t.Fatal("lead must be stamped with the new client id")
	}
	if lead.state != leadsdomain.StateDeposit {
		t.Fatalf("conversion changed lead state to %q; state must be frozen as-is", lead.state)
	}

	stored := repo.clients[client.ID]
	if err := bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("correct horse battery")); err != nil {
		t.Fatal("stored credential must be a bcrypt hash of the draft password")
	}
	if strings.Contains(stored.PasswordHash, "correct horse") {
		t.Fatal("credential stored in the clear")
	}

	if len(bus.events) != 1 {
		t.Fatalf("published %d events, want 1", len(bus.events))
	}
	converted, ok := bus.events[0].(events.LeadConverted)
	if !ok {
		t.Fatalf("published event %T, want LeadConverted", bus.events[0])
	}
	if converted.LeadID != leadID || converted.ClientID != client.ID || converted.State != leadsdomain.StateDeposit {
		t.Fatalf("LeadConverted = %+v", converted)
	}
}

func TestConvertDuplicateEmailRollsBack(t *testing.T) {
	repo := newFakeRepo()
	svc := New(repo, nopBus{})
	ctx := context.Background()
	actor := closer()

	first := uuid.New()
	repo.addLead(first, leadsdomain.StateClosedWon)
	if _, err := svc.Convert(ctx, actor, first, draft("taken@example.com")); err != nil {
		t.Fatalf("seed Convert: %v", err)
	}

	second := uuid.New()
	repo.addLead(second, leadsdomain.StateDeposit)

	_, err := svc.Convert(ctx, actor, second, draft("taken@example.com"))
	if apperr.GetKind(err) != apperr.KindDuplicate {
		t.Fatalf("Convert kind = %v, want KindDuplicate (err=%v)", apperr.GetKind(err), err)
	}

	// The failed conversion leaves no trace: clientId still null, no
	// orphan client row.
	if repo.leads[second].clientID != nil {
		t.Fatal("failed conversion must leave the lead's clientId null")
	}
	if len(repo.clients) != 1 {
		t.Fatalf("clients store has %d rows, want only the seed client", len(repo.clients))
	}
}

func TestConvertRejectsIneligibleStates(t *testing.T) {
	repo := newFakeRepo()
	svc := New(repo, nopBus{})
	ctx := context.Background()
	actor := closer()

	cases := []string{
		leadsdomain.StateInitialContact,
		leadsdomain.StateResponded,
		leadsdomain.StateCallScheduled,
		leadsdomain.StateDisqualified,
	}
	for _, state := range cases {
		t.Run(state, func(t *testing.T) {
			leadID := uuid.New()
			repo.addLead(leadID, state)

			_, err := svc.Convert(ctx, actor, leadID, draft(state+"@example.com"))
			if apperr.GetKind(err) != apperr.KindConflict {
				t.Fatalf("Convert kind = %v, want KindConflict", apperr.GetKind(err))
			}
			if repo.leads[leadID].clientID != nil {
				t.Fatal("rejected conversion must not stamp clientId")
			}
		})
	}
}

func TestConvertTwiceFailsDeterministically(t *testing.T) {
	repo := newFakeRepo()
	svc := New(repo, nopBus{})
	ctx := context.Background()
	actor := closer()

	leadID := uuid.New()
	repo.addLead(leadID, leadsdomain.StatePartialClose)

	if _, err := svc.Convert(ctx, actor, leadID, draft("once@example.com")); err != nil {
		t.Fatalf("first Convert: %v", err)
	}

	_, err := svc.Convert(ctx, actor, leadID, draft("twice@example.com"))
	if apperr.GetKind(err) != apperr.KindConflict {
		t.Fatalf("second Convert kind = %v, want KindConflict", apperr.GetKind(err))
	}
	if len(repo.clients) != 1 {
		t.Fatalf("clients store has %d rows, a second Convert must not create another", len(repo.clients))
	}
}

func TestConvertMissingLead(t *testing.T) {
	svc := New(newFakeRepo(), nopBus{})

	_, err := svc.Convert(context.Background(), closer(), uuid.New(), draft("ghost@example.com"))
	if apperr.GetKind(err) != apperr.KindNotFound {
		t.Fatalf("Convert kind = %v, want KindNotFound", apperr.GetKind(err))
	}
}

func TestConvertRequiresCapability(t *testing.T) {
	repo := newFakeRepo()
	svc := New(repo, nopBus{})

	leadID := uuid.New()
	repo.addLead(leadID, leadsdomain.StateDeposit)

	viewer := authz.NewActor(uuid.New(), authz.CapClientsView)
	_, err := svc.Convert(context.Background(), viewer, leadID, draft("x@example.com"))
	if apperr.GetKind(err) != apperr.KindForbidden {
		t.Fatalf("Convert kind = %v, want KindForbidden", apperr.GetKind(err))
	}
}

func TestUpdateDeliveryProgressBounds(t *testing.T) {
	repo := newFakeRepo()
	svc := New(repo, nopBus{})
	ctx := context.Background()
	actor := closer()

	leadID := uuid.New()
	repo.addLead(leadID, leadsdomain.StateDeposit)
	client, err := svc.Convert(ctx, actor, leadID, draft("p@example.com"))
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}

	bad := []int{-1, 101}
	for _, progress := range bad {
		p := progress
		_, err := svc.UpdateDeliveryProgress(ctx, actor, client.ID, transport.UpdateProgressRequest{DeliveryProgress: &p})
		if apperr.GetKind(err) != apperr.KindValidation {
			t.Errorf("progress %d kind = %v, want KindValidation", progress, apperr.GetKind(err))
		}
	}

	p := 60
	updated, err := svc.UpdateDeliveryProgress(ctx, actor, client.ID, transport.UpdateProgressRequest{DeliveryProgress: &p})
	if err != nil {
		t.Fatalf("UpdateDeliveryProgress: %v", err)
	}
	if updated.DeliveryProgress != 60 {
		t.Fatalf("DeliveryProgress = %d, want 60", updated.DeliveryProgress)
	}
}
