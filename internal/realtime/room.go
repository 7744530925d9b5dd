package realtime

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/soulline/backend/config"
	"github.com/soulline/backend/internal/metrics"
	"github.com/soulline/backend/internal/models"
	"github.com/soulline/backend/internal/queue"
	"github.com/soulline/backend/internal/utils"
)

// Ledger is the room's view of the balance store. Satisfied by
// services.LedgerService.
type Ledger interface {
	Debit(ctx context.Context, userID string, amount int64, reason, counterpartyID, requestID string) (int64, error)
	Credit(ctx context.Context, userID string, amount int64, reason, counterpartyID, requestID string) (int64, error)
	Balance(ctx context.Context, userID string) (int64, error)
}

// Sessions persists lifecycle transitions. Satisfied by
// services.SessionService.
type Sessions interface {
	GetByRequestID(ctx context.Context, requestID string) (*models.Session, error)
	MarkActive(ctx context.Context, requestID string, startedAt time.Time) error
	MarkEnded(ctx context.Context, requestID string, endedAt time.Time) error
	Reopen(ctx context.Context, requestID string) error
}

// Messages stores relayed chat lines. Satisfied by services.MessageService.
type Messages interface {
	Append(ctx context.Context, m *models.ChatMessage) error
}

// Deps bundles everything a room worker needs.
type Deps struct {
	Ledger   Ledger
	Sessions Sessions
	Messages Messages
	Dedup    Deduper
	Events   queue.Publisher
	Log      *logrus.Logger
}

// Session end reasons, also published on the event queue.
const (
	EndReasonHangup         = "hangup"
	EndReasonInsufficient   = "insufficient_credits"
	EndReasonGraceExpired   = "presence_grace_expired"
	EndReasonBookingExpired = "booking_window_expired"
	EndReasonForceClosed    = "force_closed"
	EndReasonShutdown       = "server_shutdown"
)

var errRoomClosed = errors.New("room closed")

type joinCmd struct {
	c     Client
	reply chan error
}

type leaveCmd struct{ c Client }

type frameCmd struct {
	c Client
	f ClientFrame
}

type upgradeCmd struct {
	pricePerMinute int64
	reply          chan error
}

type forceCloseCmd struct {
	reason string
	reply  chan error
}

// Room is the lifecycle controller of one live session. All state below the
// inbound channel is owned by the run loop: joins, leaves, client frames,
// billing ticks and grace expiry are serialized through one goroutine, so no
// two billing ticks for the same room ever overlap and presence updates are
// always observed before the arm decisions that depend on them.
type Room struct {
	cfg  *config.EngineConfig
	deps Deps
	log  *logrus.Entry

	inbound chan command
	done    chan struct{}

	// owned by the run loop
	sess     *models.Session
	clients  map[Client]struct{}
	presence *presenceSet
	clock    *billingClock
	grace    *time.Timer
	graceC   <-chan time.Time
	ticks    int64
}

type command any

func newRoom(sess *models.Session, cfg *config.EngineConfig, deps Deps) *Room {
	return &Room{
		cfg:      cfg,
		deps:     deps,
		log:      deps.Log.WithFields(logrus.Fields{"room": sess.RoomName, "request_id": sess.RequestID}),
		inbound:  make(chan command, 64),
		done:     make(chan struct{}),
		sess:     sess,
		clients:  make(map[Client]struct{}),
		presence: newPresenceSet(),
		clock:    newBillingClock(cfg.TickPeriod),
	}
}

func (r *Room) Name() string          { return r.sess.RoomName }
func (r *Room) Done() <-chan struct{} { return r.done }

// Attach registers a client with the room worker and waits for the verdict.
func (r *Room) Attach(c Client) error {
	reply := make(chan error, 1)
	select {
	case r.inbound <- joinCmd{c: c, reply: reply}:
	case <-r.done:
		return errRoomClosed
	}
	select {
	case err := <-reply:
		return err
	case <-r.done:
		select {
		case err := <-reply:
			return err
		default:
			return errRoomClosed
		}
	}
}

// Detach removes a client. Safe to call for clients that never attached.
func (r *Room) Detach(c Client) {
	select {
	case r.inbound <- leaveCmd{c: c}:
	case <-r.done:
	}
}

// Dispatch hands one inbound client frame to the room worker.
func (r *Room) Dispatch(c Client, f ClientFrame) {
	select {
	case r.inbound <- frameCmd{c: c, f: f}:
	case <-r.done:
		c.Send(errorEvent(ErrCodeSessionCompleted, "session already completed"))
	}
}

// Upgrade applies the voice to video rate change; the new rate takes effect
// from the next billing tick.
func (r *Room) Upgrade(pricePerMinute int64) error {
	reply := make(chan error, 1)
	select {
	case r.inbound <- upgradeCmd{pricePerMinute: pricePerMinute, reply: reply}:
	case <-r.done:
		return errRoomClosed
	}
	select {
	case err := <-reply:
		return err
	case <-r.done:
		select {
		case err := <-reply:
			return err
		default:
			return errRoomClosed
		}
	}
}

// ForceClose ends the session administratively.
func (r *Room) ForceClose(reason string) error {
	reply := make(chan error, 1)
	select {
	case r.inbound <- forceCloseCmd{reason: reason, reply: reply}:
	case <-r.done:
		return errRoomClosed
	}
	select {
	case err := <-reply:
		return err
	case <-r.done:
		select {
		case err := <-reply:
			return err
		default:
			return errRoomClosed
		}
	}
}

func (r *Room) run(ctx context.Context) {
	metrics.ActiveRooms.Inc()
	defer metrics.ActiveRooms.Dec()
	defer close(r.done)

	for {
		select {
		case cmd := <-r.inbound:
			r.handle(ctx, cmd)
		case <-r.clock.C():
			r.onTick(ctx)
		case <-r.graceC:
			r.graceC = nil
			r.grace = nil
			r.log.Warn("presence grace expired, ending session")
			r.endSession(ctx, EndReasonGraceExpired)
		case <-ctx.Done():
			// server shutdown: sessions never outlive the process silently
			r.endSession(context.Background(), EndReasonShutdown)
			for c := range r.clients {
				c.Kick("server shutting down")
			}
			return
		}

		// GC: nothing connected and no armed clock that must keep running
		if len(r.clients) == 0 && !r.clock.Armed() && r.graceC == nil {
			return
		}
	}
}

func (r *Room) handle(ctx context.Context, cmd command) {
	switch cmd := cmd.(type) {
	case joinCmd:
		r.handleJoin(ctx, cmd)
	case leaveCmd:
		r.handleLeave(cmd.c)
	case frameCmd:
		r.handleFrame(ctx, cmd.c, cmd.f)
	case upgradeCmd:
		r.handleUpgrade(cmd)
	case forceCloseCmd:
		if r.ended() {
			cmd.reply <- utils.E(utils.CodeSessionCompleted, "Room.ForceClose", "session already completed", nil)
			return
		}
		r.endSession(ctx, cmd.reason)
		cmd.reply <- nil
	}
}

func (r *Room) handleJoin(ctx context.Context, cmd joinCmd) {
	if r.ended() {
		// a join racing a just-finished end lands here; the hub re-checks
		// booking re-entry on the next attempt
		cmd.reply <- utils.E(utils.CodeSessionCompleted, "Room.Join", "session already completed", nil)
		return
	}

	r.clients[cmd.c] = struct{}{}
	metrics.ActiveConnections.Inc()

	// admins observe without occupying presence, so the two-party count
	// never exceeds two
	if r.sess.IsParty(cmd.c.UserID()) {
		count := r.presence.Join(cmd.c.UserID())

		if r.sess.Status == models.StatusPending {
			now := time.Now().UTC()
			r.sess.Status = models.StatusActive
			if r.sess.StartedAt == nil {
				r.sess.StartedAt = &now
			}
			if err := r.deps.Sessions.MarkActive(ctx, r.sess.RequestID, now); err != nil {
				r.log.WithError(err).Error("failed to persist session activation")
			}
		}

		// a rejoin inside the grace window resumes the session untouched
		if count >= 2 {
			r.stopGrace()
		}

		r.broadcast(presenceEvent(count))
	}
	cmd.reply <- nil
}

func (r *Room) handleLeave(c Client) {
	if _, ok := r.clients[c]; !ok {
		return
	}
	r.dropClient(c)
	if !r.ended() && r.sess.IsParty(c.UserID()) {
		r.broadcast(presenceEvent(r.presence.Count()))
	}
}

// dropClient removes bookkeeping for a gone socket and starts the grace
// window when an armed session loses a party.
func (r *Room) dropClient(c Client) {
	delete(r.clients, c)
	metrics.ActiveConnections.Dec()
	count := r.presence.Leave(c.UserID())
	if !r.ended() && r.clock.Armed() && count < 2 {
		r.startGrace()
	}
}

func (r *Room) handleFrame(ctx context.Context, c Client, f ClientFrame) {
	if _, ok := r.clients[c]; !ok {
		return
	}
	switch f.Type {
	case EvtStartCall:
		r.handleStartCall(ctx, c)
	case EvtEndCall, EvtEndChat:
		r.handleEndRequest(ctx, c)
	case EvtChatMessage:
		r.handleChat(ctx, c, f.Message)
	case EvtTypingStart, EvtTypingStop:
		r.handleTyping(c, f.Type)
	default:
		c.Send(errorEvent(ErrCodeInvalid, "unknown event type"))
	}
}

// handleStartCall arms the billing clock. Only the customer side may arm,
// and the armed flag guards against duplicate tabs racing each other.
func (r *Room) handleStartCall(ctx context.Context, c Client) {
	if r.ended() {
		c.Send(errorEvent(ErrCodeSessionCompleted, "session already completed"))
		return
	}
	if c.UserID() != r.sess.CustomerID {
		c.Send(errorEvent(ErrCodeForbidden, "only the customer may start billing"))
		return
	}
	if r.clock.Armed() {
		// duplicate tab; the first start_call already confirmed to the room
		return
	}
	if r.presence.Count() < 2 {
		c.Send(errorEvent(ErrCodePrecondition, "both parties must be present"))
		return
	}

	balance, err := r.deps.Ledger.Balance(ctx, r.sess.CustomerID)
	if err != nil {
		r.log.WithError(err).Error("balance check failed")
		c.Send(errorEvent(ErrCodeUnavailable, "balance unavailable, try again"))
		return
	}
	if balance < r.sess.PricePerMinute {
		c.Send(errorEvent(ErrCodeInsufficientCredits, "top up to start the session"))
		return
	}

	r.clock.Arm()
	r.log.WithFields(logrus.Fields{
		"mode":             r.sess.Mode,
		"price_per_minute": r.sess.PricePerMinute,
	}).Info("billing armed")
	r.broadcast(callActiveEvent(r.sess.ID))
}

// onTick commits one billing deduction. Runs on the room worker, so tick N+1
// can never start before tick N finished, and balances events leave in
// ledger commit order.
func (r *Room) onTick(ctx context.Context) {
	price := r.sess.PricePerMinute

	customerBalance, err := r.deps.Ledger.Debit(ctx,
		r.sess.CustomerID, price, models.ReasonSessionCharge, r.sess.ConsultantID, r.sess.RequestID)
	if err != nil {
		if utils.IsCode(err, utils.CodeInsufficientCredits) {
			r.broadcast(errorEvent(ErrCodeInsufficientCredits, "credits exhausted"))
			r.endSession(ctx, EndReasonInsufficient)
			return
		}
		// transient ledger failure: reported here, retried on the next tick
		r.log.WithError(err).Error("billing tick debit failed")
		return
	}

	r.ticks++
	metrics.BillingTicks.Inc()

	share := price - price*r.cfg.CommissionPercent/100
	var consultantBalance *int64
	if share > 0 {
		nb, err := r.deps.Ledger.Credit(ctx,
			r.sess.ConsultantID, share, models.ReasonSessionPayout, r.sess.CustomerID, r.sess.RequestID)
		if err != nil {
			r.log.WithError(err).Error("consultant payout failed")
		} else {
			consultantBalance = &nb
		}
	}

	r.broadcast(balancesEvent(&customerBalance, consultantBalance))
}

func (r *Room) handleChat(ctx context.Context, c Client, text string) {
	if r.ended() {
		c.Send(errorEvent(ErrCodeSessionCompleted, "session already completed"))
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		c.Send(errorEvent(ErrCodeInvalid, "empty message"))
		return
	}
	if len(text) > r.cfg.MaxMessageLen {
		c.Send(errorEvent(ErrCodeInvalid, "message too long"))
		return
	}

	// zero balance blocks further customer messages; time-based billing
	// never charges for the text itself
	if c.UserID() == r.sess.CustomerID {
		balance, err := r.deps.Ledger.Balance(ctx, c.UserID())
		if err != nil {
			r.log.WithError(err).Error("balance check failed")
			c.Send(errorEvent(ErrCodeUnavailable, "balance unavailable, try again"))
			return
		}
		if balance <= 0 {
			c.Send(errorEvent(ErrCodeInsufficientCredits, "top up to keep chatting"))
			return
		}
	}

	dup, err := r.deps.Dedup.Duplicate(ctx, r.sess.RequestID, c.UserID(), text)
	if err != nil {
		// deliver rather than drop when the dedup store is unreachable
		r.log.WithError(err).Warn("dedup check failed")
	}
	if dup {
		metrics.MessagesDeduplicated.Inc()
		return
	}

	now := time.Now().UTC()
	msg := &models.ChatMessage{
		RequestID: r.sess.RequestID,
		SenderID:  c.UserID(),
		Message:   text,
		CreatedAt: now,
	}
	if err := r.deps.Messages.Append(ctx, msg); err != nil {
		r.log.WithError(err).Error("message persist failed")
		c.Send(errorEvent(ErrCodeUnavailable, "message not delivered"))
		return
	}

	metrics.MessagesRelayed.Inc()
	r.broadcastExcept(c, chatEvent(c.UserID(), text, now))
}

func (r *Room) handleTyping(c Client, typ string) {
	if r.ended() {
		return
	}
	// ephemeral, fire and forget
	r.broadcastExcept(c, typingEvent(typ, c.UserID()))
}

func (r *Room) handleEndRequest(ctx context.Context, c Client) {
	if r.ended() {
		c.Send(errorEvent(ErrCodeSessionCompleted, "session already completed"))
		return
	}
	if c.UserID() != r.sess.CustomerID && c.UserID() != r.sess.ConsultantID && c.Role() != models.RoleAdmin {
		c.Send(errorEvent(ErrCodeForbidden, "not a session party"))
		return
	}
	r.endSession(ctx, EndReasonHangup)
}

func (r *Room) handleUpgrade(cmd upgradeCmd) {
	if r.ended() {
		cmd.reply <- utils.E(utils.CodeSessionCompleted, "Room.Upgrade", "session already completed", nil)
		return
	}
	// mode is monotonic; StartedAt and the armed clock stay untouched
	r.sess.Mode = models.ModeVideo
	r.sess.PricePerMinute = cmd.pricePerMinute
	r.log.WithField("price_per_minute", cmd.pricePerMinute).Info("call upgraded to video")
	r.broadcast(ServerEvent{Type: EvtCallUpgradedToVideo})
	cmd.reply <- nil
}

// endSession is the single terminal transition. The clock is disarmed before
// anything else, so no tick can commit after the session is ended.
func (r *Room) endSession(ctx context.Context, reason string) {
	if r.ended() {
		return
	}
	r.clock.Disarm()
	r.stopGrace()

	now := time.Now().UTC()
	r.sess.Status = models.StatusEnded
	r.sess.EndedAt = &now

	if err := r.deps.Sessions.MarkEnded(ctx, r.sess.RequestID, now); err != nil {
		r.log.WithError(err).Error("failed to persist session end")
	}

	r.broadcast(sessionEndedEvent())
	metrics.SessionsEnded.WithLabelValues(reason).Inc()

	if err := r.deps.Events.SessionEnded(ctx, queue.SessionEndedEvent{
		RequestID:    r.sess.RequestID,
		RoomName:     r.sess.RoomName,
		CustomerID:   r.sess.CustomerID,
		ConsultantID: r.sess.ConsultantID,
		Mode:         string(r.sess.Mode),
		Reason:       reason,
		Ticks:        r.ticks,
		StartedAt:    r.sess.StartedAt,
		EndedAt:      now,
	}); err != nil {
		r.log.WithError(err).Warn("session end event not published")
	}

	r.log.WithFields(logrus.Fields{"reason": reason, "ticks": r.ticks}).Info("session ended")
}

func (r *Room) ended() bool { return r.sess.Status == models.StatusEnded }

func (r *Room) startGrace() {
	if r.graceC != nil {
		return
	}
	r.grace = time.NewTimer(r.cfg.PresenceGrace)
	r.graceC = r.grace.C
	r.log.WithField("grace", r.cfg.PresenceGrace).Warn("presence below two parties, grace window started")
}

func (r *Room) stopGrace() {
	if r.grace != nil {
		r.grace.Stop()
		r.grace = nil
		r.graceC = nil
	}
}

func (r *Room) broadcast(ev ServerEvent) {
	r.broadcastExcept(nil, ev)
}

func (r *Room) broadcastExcept(skip Client, ev ServerEvent) {
	var slow []Client
	for c := range r.clients {
		if c == skip {
			continue
		}
		if !c.Send(ev) {
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		r.log.WithField("user_id", c.UserID()).Warn("dropping unresponsive client")
		r.dropClient(c)
		c.Kick("client not keeping up")
	}
}
