// Package identity implements the contact consolidation engine: matching an
// incoming email/phone pair against stored contacts, merging clusters under
// the oldest primary, inserting secondaries for new information and
// assembling the consolidated view.
//
// The engine is stateless. Every decision is recomputed from the store inside
// one transaction per attempt; a store-reported conflict restarts the attempt
// from the match step.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/starford/contactlink/internal/apperr"
	"github.com/starford/contactlink/internal/events"
	"github.com/starford/contactlink/internal/metrics"
	"github.com/starford/contactlink/internal/models"
	"github.com/starford/contactlink/internal/store"
	"github.com/starford/contactlink/internal/tracing"
)

const (
	defaultTimeout    = 5 * time.Second
	defaultMaxRetries = 3
	// publishTimeout bounds event delivery after commit.
	publishTimeout = time.Second
	// maxLinkHops bounds linked_id traversal over data written before the
	// one-hop invariant was enforced.
	maxLinkHops = 16
)

// Store is the transactional data store the engine runs against.
type Store interface {
	WithinTx(ctx context.Context, fn store.TxFunc) error
}

// Request carries the identifiers of one Identify call. Nil and empty
// strings both mean "not supplied".
type Request struct {
	Email       *string
	PhoneNumber *string
}

// Option configures an Engine.
type Option func(*Engine)

// WithPublisher sets the sink for committed identity events.
func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) {
		e.publisher = p
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithTimeout bounds each attempt (all store calls of one transaction).
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.timeout = d
	}
}

// WithMaxRetries sets how many times a conflicting attempt is restarted.
func WithMaxRetries(n int) Option {
	return func(e *Engine) {
		e.maxRetries = n
	}
}

// Engine is the consolidation engine.
type Engine struct {
	store      Store
	publisher  events.Publisher
	logger     *slog.Logger
	timeout    time.Duration
	maxRetries int
}

// NewEngine creates an engine over st.
func NewEngine(st Store, opts ...Option) *Engine {
	e := &Engine{
		store:      st,
		publisher:  events.Discard{},
		logger:     slog.Default(),
		timeout:    defaultTimeout,
		maxRetries: defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// outcome collects what one successful attempt changed.
type outcome struct {
	identity *models.ConsolidatedIdentity
	created  *models.Contact
	demoted  []int64
}

func (o *outcome) label() string {
	switch {
	case len(o.demoted) > 0:
		return metrics.OutcomeMerged
	case o.created != nil && o.created.IsPrimary():
		return metrics.OutcomeCreated
	case o.created != nil:
		return metrics.OutcomeLinked
	default:
		return metrics.OutcomeMatched
	}
}

// Identify resolves req to a consolidated identity, creating, linking or
// merging contacts as needed. It fails with apperr.ErrInvalidRequest when
// neither identifier is supplied and with apperr.ErrStoreUnavailable on any
// store failure; nothing is committed in either case.
func (e *Engine) Identify(ctx context.Context, req Request) (_ *models.ConsolidatedIdentity, err error) {
	start := time.Now()
	label := metrics.OutcomeError
	defer func() {
		metrics.IdentifyRequestsTotal.WithLabelValues(label).Inc()
		metrics.IdentifyDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	}()

	ctx, span := tracing.StartSpan(ctx, "identity.Engine.Identify")
	defer func() { tracing.End(span, err) }()

	req = req.normalized()
	if req.Email == nil && req.PhoneNumber == nil {
		label = metrics.OutcomeInvalid
		return nil, apperr.ErrInvalidRequest
	}

	var out *outcome
	for attempt := 0; ; attempt++ {
		out, err = e.attempt(ctx, req)
		if err == nil {
			break
		}
		if !errors.Is(err, apperr.ErrConflict) {
			if errors.Is(err, apperr.ErrStoreUnavailable) {
				label = metrics.OutcomeUnavailable
			}
			return nil, err
		}
		if attempt >= e.maxRetries {
			label = metrics.OutcomeUnavailable
			return nil, fmt.Errorf("identity: giving up after %d attempts: %w: %w", attempt+1, apperr.ErrStoreUnavailable, err)
		}
		metrics.IdentifyRetriesTotal.Inc()
		e.logger.Debug("identify: retrying after store conflict", slog.Int("attempt", attempt+1))
	}

	label = out.label()
	span.SetAttributes(
		attribute.Int64("contact.primary_id", out.identity.PrimaryContactID),
		attribute.String("identify.outcome", label),
	)
	e.record(ctx, out)
	return out.identity, nil
}

// Cluster returns the consolidated identity of the cluster containing id.
// id may name the primary or any of its secondaries.
func (e *Engine) Cluster(ctx context.Context, id int64) (_ *models.ConsolidatedIdentity, err error) {
	ctx, span := tracing.StartSpan(ctx, "identity.Engine.Cluster", attribute.Int64("contact.id", id))
	defer func() { tracing.End(span, err) }()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var result *models.ConsolidatedIdentity
	err = e.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		rows, err := tx.FindByClusterPrimary(ctx, id)
		if err != nil {
			return err
		}
		self, ok := findByID(rows, id)
		if !ok {
			return apperr.ErrNotFound
		}
		primary, err := resolvePrimary(ctx, tx, self, nil)
		if err != nil {
			return err
		}
		if primary.ID != id {
			if rows, err = tx.FindByClusterPrimary(ctx, primary.ID); err != nil {
				return err
			}
		}
		result = consolidate(primary, rows)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// attempt runs steps 1-5 of one Identify inside a single transaction.
func (e *Engine) attempt(ctx context.Context, req Request) (*outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var out *outcome
	err := e.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		out, err = identifyTx(ctx, tx, req)
		return err
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, apperr.ErrStoreUnavailable) {
			return nil, fmt.Errorf("identity: attempt timed out: %w: %w", apperr.ErrStoreUnavailable, err)
		}
		return nil, err
	}
	return out, nil
}

func identifyTx(ctx context.Context, tx store.Tx, req Request) (*outcome, error) {
	matches, err := tx.FindByEmailOrPhone(ctx, req.Email, req.PhoneNumber)
	if err != nil {
		return nil, err
	}

	if len(matches) == 0 {
		created, err := tx.CreateContact(ctx, req.Email, req.PhoneNumber, models.LinkPrimary, nil)
		if err != nil {
			return nil, err
		}
		return &outcome{
			identity: consolidate(*created, []models.Contact{*created}),
			created:  created,
		}, nil
	}

	roots, err := governingPrimaries(ctx, tx, matches)
	if err != nil {
		return nil, err
	}
	governing := roots[0]
	out := &outcome{}

	for _, younger := range roots[1:] {
		if err := tx.UpdateLinkage(ctx, younger.ID, models.LinkSecondary, &governing.ID); err != nil {
			return nil, err
		}
		if err := tx.RelinkSecondaries(ctx, younger.ID, governing.ID); err != nil {
			return nil, err
		}
		out.demoted = append(out.demoted, younger.ID)
	}

	// Matched secondaries still pointing elsewhere (legacy chains) are
	// hoisted directly under the governing primary.
	for _, m := range matches {
		if m.IsPrimary() || m.LinkedID == nil || *m.LinkedID == governing.ID || slices.Contains(out.demoted, *m.LinkedID) {
			continue
		}
		if err := tx.UpdateLinkage(ctx, m.ID, models.LinkSecondary, &governing.ID); err != nil {
			return nil, err
		}
	}

	cluster, err := tx.FindByClusterPrimary(ctx, governing.ID)
	if err != nil {
		return nil, err
	}

	if needsInsert(cluster, req) {
		created, err := tx.CreateContact(ctx, req.Email, req.PhoneNumber, models.LinkSecondary, &governing.ID)
		if err != nil {
			return nil, err
		}
		out.created = created
		if cluster, err = tx.FindByClusterPrimary(ctx, governing.ID); err != nil {
			return nil, err
		}
	}

	primary, ok := findByID(cluster, governing.ID)
	if !ok {
		return nil, fmt.Errorf("identity: primary %d missing from its own cluster", governing.ID)
	}
	out.identity = consolidate(primary, cluster)
	return out, nil
}

// governingPrimaries resolves every match to its cluster primary and returns
// the distinct primaries, most senior first.
func governingPrimaries(ctx context.Context, tx store.Tx, matches []models.Contact) ([]models.Contact, error) {
	known := make(map[int64]models.Contact)
	for _, m := range matches {
		if m.IsPrimary() {
			known[m.ID] = m
		}
	}

	seen := make(map[int64]struct{})
	var roots []models.Contact
	for _, m := range matches {
		root, err := resolvePrimary(ctx, tx, m, known)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[root.ID]; dup {
			continue
		}
		seen[root.ID] = struct{}{}
		roots = append(roots, root)
	}
	sortContacts(roots)
	return roots, nil
}

// resolvePrimary follows linked_id from c until it reaches a primary.
// known caches primaries already loaded in this transaction.
func resolvePrimary(ctx context.Context, tx store.Tx, c models.Contact, known map[int64]models.Contact) (models.Contact, error) {
	cur := c
	for hop := 0; hop < maxLinkHops; hop++ {
		if cur.IsPrimary() || cur.LinkedID == nil {
			return cur, nil
		}
		next := *cur.LinkedID
		if p, ok := known[next]; ok {
			return p, nil
		}
		rows, err := tx.FindByClusterPrimary(ctx, next)
		if err != nil {
			return models.Contact{}, err
		}
		parent, ok := findByID(rows, next)
		if !ok {
			return models.Contact{}, fmt.Errorf("identity: contact %d links to missing contact %d", cur.ID, next)
		}
		if parent.IsPrimary() && known != nil {
			known[parent.ID] = parent
		}
		cur = parent
	}
	return models.Contact{}, fmt.Errorf("identity: contact %d exceeds %d link hops", c.ID, maxLinkHops)
}

// needsInsert applies the dedup policy: an exact (email, phone) duplicate is
// never inserted; otherwise a secondary is added when a supplied field is new
// to the cluster, or when both are supplied and the pair is new.
func needsInsert(cluster []models.Contact, req Request) bool {
	var emailSeen, phoneSeen bool
	for _, c := range cluster {
		if sameField(c.Email, req.Email) && sameField(c.PhoneNumber, req.PhoneNumber) {
			return false
		}
		if req.Email != nil && sameField(c.Email, req.Email) {
			emailSeen = true
		}
		if req.PhoneNumber != nil && sameField(c.PhoneNumber, req.PhoneNumber) {
			phoneSeen = true
		}
	}
	if req.Email != nil && !emailSeen {
		return true
	}
	if req.PhoneNumber != nil && !phoneSeen {
		return true
	}
	return req.Email != nil && req.PhoneNumber != nil
}

// record publishes events and bumps counters for a committed outcome.
func (e *Engine) record(ctx context.Context, out *outcome) {
	now := time.Now().UTC()
	primaryID := out.identity.PrimaryContactID
	var evs []events.Event

	if len(out.demoted) > 0 {
		metrics.ClustersMergedTotal.Add(float64(len(out.demoted)))
		evs = append(evs, events.Event{
			Type:             events.TypeContactMerged,
			PrimaryContactID: primaryID,
			ContactIDs:       out.demoted,
			Timestamp:        now,
		})
	}
	if c := out.created; c != nil {
		metrics.ContactsCreatedTotal.WithLabelValues(string(c.LinkPrecedence)).Inc()
		typ := events.TypeContactLinked
		if c.IsPrimary() {
			typ = events.TypeContactCreated
		}
		evs = append(evs, events.Event{
			Type:             typ,
			PrimaryContactID: primaryID,
			ContactIDs:       []int64{c.ID},
			Timestamp:        now,
		})
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	for _, ev := range evs {
		if err := e.publisher.Publish(ctx, ev); err != nil {
			e.logger.Warn("identify: publish event failed",
				slog.String("type", ev.Type),
				slog.Int64("primary_contact_id", primaryID),
				slog.String("error", err.Error()))
		}
	}
}

func (r Request) normalized() Request {
	return Request{
		Email:       nonEmpty(r.Email),
		PhoneNumber: nonEmpty(r.PhoneNumber),
	}
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}

func sameField(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func findByID(rows []models.Contact, id int64) (models.Contact, bool) {
	for _, c := range rows {
		if c.ID == id {
			return c, true
		}
	}
	return models.Contact{}, false
}
