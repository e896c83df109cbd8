package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/perch/internal/routing"
)

var tracer = otel.Tracer("github.com/linnemanlabs/perch/internal/relay")

// Sender identities per event kind.
const (
	IncidentSender = "Pager Parrot"
	IncidentIcon   = ":parrot:"
	ReviewSender   = "Phabricator Fox"
	ReviewIcon     = ":fox:"
	PushSender     = "GitHub Octocat"
	PushIcon       = ":octocat:"
)

// Sink delivers a message and returns the thread reference the message
// belongs to, or "" if the backend cannot thread.
type Sink interface {
	Deliver(ctx context.Context, msg Message) (threadRef string, err error)
}

// DiffLocator finds the repository callsign a code review belongs to.
type DiffLocator interface {
	CallsignForDiff(ctx context.Context, diffID int) (string, error)
}

// Channels names the primary channel for each event kind.
type Channels struct {
	Incident string
	Review   string
	Push     string
}

// Options wires a Service.
type Options struct {
	Policies *PolicySet
	Renderer *Renderer
	Routes   *routing.Table
	Sink     Sink
	Locator  DiffLocator // optional
	Clock    Clock       // defaults to SystemClock
	Calendar *Calendar   // defaults to DefaultTimeZone
	Primary  Channels

	MessageTimeout    time.Duration
	EscalationTimeout time.Duration
	ThreadTimeout     time.Duration

	Logger log.Logger
	Hooks  Hooks
}

// Hooks are optional observation callbacks. Nil fields are skipped.
type Hooks struct {
	OnEvent      func(source Source, result string)
	OnEscalation func(shouldPing bool)
	OnAction     func(action Action)
	OnDelivery   func(sender string, err error, seconds float64)
	OnThread     func(continued bool)
	OnSeen       func(keys int)
}

// SubmitResult is the outcome of handing an event to the Service.
type SubmitResult struct {
	ID      string
	Skipped bool
	Reason  string
}

type admission struct {
	now        time.Time
	shouldPing bool
}

// Service deduplicates events, applies the escalation policy and drives deliveries.
type Service struct {
	state    *State
	threads  *ThreadTracker
	policies *PolicySet
	renderer *Renderer
	routes   *routing.Table
	sink     Sink
	locator  DiffLocator
	clock    Clock
	calendar *Calendar
	primary  Channels
	logger   log.Logger
	hooks    Hooks

	inflight sync.WaitGroup
}

// NewService validates opts and returns a ready Service.
func NewService(opts Options) (*Service, error) {
	if opts.Policies == nil {
		return nil, errors.New("relay: policies are required")
	}
	if opts.Renderer == nil {
		return nil, errors.New("relay: renderer is required")
	}
	if opts.Routes == nil {
		return nil, errors.New("relay: routing table is required")
	}
	if opts.Sink == nil {
		return nil, errors.New("relay: sink is required")
	}
	if opts.Primary.Incident == "" || opts.Primary.Review == "" || opts.Primary.Push == "" {
		return nil, errors.New("relay: primary channels are required")
	}
	if _, err := opts.Policies.Lookup(opts.Primary.Incident); err != nil {
		return nil, fmt.Errorf("relay: incident primary channel: %w", err)
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock
	}
	if opts.Calendar == nil {
		cal, err := NewCalendar(DefaultTimeZone)
		if err != nil {
			return nil, err
		}
		opts.Calendar = cal
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}

	return &Service{
		state:    NewState(opts.MessageTimeout, opts.EscalationTimeout),
		threads:  NewThreadTracker(opts.ThreadTimeout, opts.Policies.Channels()...),
		policies: opts.Policies,
		renderer: opts.Renderer,
		routes:   opts.Routes,
		sink:     opts.Sink,
		locator:  opts.Locator,
		clock:    opts.Clock,
		calendar: opts.Calendar,
		primary:  opts.Primary,
		logger:   opts.Logger,
		hooks:    opts.Hooks,
	}, nil
}

// Submit admits ev and dispatches its deliveries in the background.
func (s *Service) Submit(ctx context.Context, ev *Event) (*SubmitResult, error) {
	adm, sr, err := s.admit(ev)
	if err != nil || sr.Skipped {
		return sr, err
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		// errors are logged inside dispatch
		_ = s.dispatch(context.WithoutCancel(ctx), ev, adm)
	}()
	return sr, nil
}

// Process admits ev and performs its deliveries before returning.
func (s *Service) Process(ctx context.Context, ev *Event) (*SubmitResult, error) {
	adm, sr, err := s.admit(ev)
	if err != nil || sr.Skipped {
		return sr, err
	}
	return sr, s.dispatch(ctx, ev, adm)
}

// Wait blocks until background dispatches finish or ctx ends.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) admit(ev *Event) (admission, *SubmitResult, error) {
	if ev == nil || ev.Payload == nil {
		return admission{}, nil, errors.New("relay: event has no payload")
	}
	if ev.ID == "" {
		return admission{}, nil, errors.New("relay: event has no id")
	}

	now := s.clock.Now()
	adm := admission{now: now}

	if _, ok := ev.Payload.(*Incident); ok {
		// acknowledgements and resolves are not relayed and not marked seen
		if ev.Type != TypeIncidentTrigger {
			s.event(ev.Source, "ignored")
			return adm, &SubmitResult{ID: ev.ID, Skipped: true, Reason: "not a trigger"}, nil
		}
		isNew, shouldPing := s.state.Admit(ev.Key(), now)
		if !isNew {
			s.event(ev.Source, "duplicate")
			return adm, &SubmitResult{ID: ev.ID, Skipped: true, Reason: "duplicate"}, nil
		}
		adm.shouldPing = shouldPing
		if s.hooks.OnEscalation != nil {
			s.hooks.OnEscalation(shouldPing)
		}
	} else if !s.state.Observe(ev.Key()) {
		s.event(ev.Source, "duplicate")
		return adm, &SubmitResult{ID: ev.ID, Skipped: true, Reason: "duplicate"}, nil
	}

	s.event(ev.Source, "accepted")
	if s.hooks.OnSeen != nil {
		s.hooks.OnSeen(s.state.Seen())
	}
	return adm, &SubmitResult{ID: ev.ID}, nil
}

func (s *Service) dispatch(ctx context.Context, ev *Event, adm admission) error {
	ctx, span := tracer.Start(ctx, "relay.dispatch", trace.WithAttributes(
		attribute.String("perch.event.id", ev.ID),
		attribute.String("perch.event.source", string(ev.Source)),
		attribute.String("perch.event.kind", ev.Payload.payloadKind()),
	))
	defer span.End()

	L := s.logger.With("event_id", ev.ID, "source", ev.Source)

	var err error
	switch p := ev.Payload.(type) {
	case *Incident:
		err = s.dispatchIncident(ctx, L, p, adm)
	case *Review:
		err = s.dispatchReview(ctx, L, p)
	case *Push:
		err = s.dispatchPush(ctx, L, p)
	default:
		err = fmt.Errorf("relay: unsupported payload %T", p)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		L.Error(ctx, err, "event dispatch failed")
		return err
	}
	L.Info(ctx, "event relayed", "kind", ev.Payload.payloadKind())
	return nil
}

func (s *Service) dispatchIncident(ctx context.Context, L log.Logger, inc *Incident, adm admission) error {
	weekday := s.calendar.IsWeekday(adm.now)
	channels := routing.Fanout(s.primary.Incident, s.policies.Channels(), s.routes.ByService(inc.Service))

	L.Info(ctx, "relaying incident",
		"number", inc.Number,
		"urgency", inc.Urgency,
		"should_ping", adm.shouldPing,
		"weekday", weekday,
		"channels", len(channels),
	)

	var errs []error
	for _, ch := range channels {
		policy, err := s.policies.Lookup(ch)
		if err != nil {
			return errors.Join(append(errs, err)...)
		}
		action := DecideAction(inc.Urgency, weekday, adm.shouldPing, policy)
		if s.hooks.OnAction != nil {
			s.hooks.OnAction(action)
		}

		threadRef, continued, err := s.threads.Get(ch, s.clock.Now())
		if err != nil {
			return errors.Join(append(errs, err)...)
		}
		if s.hooks.OnThread != nil {
			s.hooks.OnThread(continued)
		}

		ref, err := s.deliver(ctx, L, Message{
			Channel:   ch,
			Text:      s.renderer.Render(action, policy.Audience, inc),
			Sender:    IncidentSender,
			Icon:      IncidentIcon,
			ThreadRef: threadRef,
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ref != "" {
			if err := s.threads.Set(ch, ref, s.clock.Now()); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (s *Service) dispatchReview(ctx context.Context, L log.Logger, rv *Review) error {
	var callsign string
	if s.locator != nil && rv.DiffID > 0 {
		cs, err := s.locator.CallsignForDiff(ctx, rv.DiffID)
		if err != nil {
			// routing falls back to the primary and user channels
			L.Warn(ctx, "unable to determine repository callsign", "diff", rv.Code, "error", err)
		}
		callsign = cs
	}

	text := fmt.Sprintf(":phabricator: <%s|%s>: %s (%s by %s)",
		rv.URL, rv.Code, rv.Description, rv.Action, rv.Author)
	channels := routing.Fanout(s.primary.Review, s.routes.ByCallsign(callsign), s.routes.ByUser(rv.Author))
	return s.deliverAll(ctx, L, channels, text, ReviewSender, ReviewIcon)
}

func (s *Service) dispatchPush(ctx context.Context, L log.Logger, p *Push) error {
	noun := "commits"
	if p.Commits == 1 {
		noun = "commit"
	}
	text := fmt.Sprintf(":octocat: %s pushed %d %s to <%s|%s/%s>",
		p.Pusher, p.Commits, noun, p.CompareURL, p.Repository, p.Branch)
	if head := firstLine(p.HeadMessage); head != "" {
		text += ": " + head
	}
	channels := routing.Fanout(s.primary.Push, s.routes.ByRepository(p.Repository), s.routes.ByUser(p.Pusher))
	return s.deliverAll(ctx, L, channels, text, PushSender, PushIcon)
}

// deliverAll posts text to channels in order, primary first. A failed
// delivery does not stop the remaining ones.
func (s *Service) deliverAll(ctx context.Context, L log.Logger, channels []string, text, sender, icon string) error {
	var errs []error
	for _, ch := range channels {
		if _, err := s.deliver(ctx, L, Message{Channel: ch, Text: text, Sender: sender, Icon: icon}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) deliver(ctx context.Context, L log.Logger, msg Message) (string, error) {
	start := time.Now()
	ref, err := s.sink.Deliver(ctx, msg)
	if s.hooks.OnDelivery != nil {
		s.hooks.OnDelivery(msg.Sender, err, time.Since(start).Seconds())
	}
	if err != nil {
		L.Error(ctx, err, "delivery failed", "channel", msg.Channel)
		return "", fmt.Errorf("deliver to %s: %w", msg.Channel, err)
	}
	L.Info(ctx, "delivered", "channel", msg.Channel, "threaded", msg.ThreadRef != "")
	return ref, nil
}

func (s *Service) event(src Source, result string) {
	if s.hooks.OnEvent != nil {
		s.hooks.OnEvent(src, result)
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(line)
}
