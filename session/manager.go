// Package session owns the in-memory authentication state and drives login,
// registration, email confirmation, logout, startup recovery and credential
// refresh.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/theDeemoonn/foodMobile/credentials"
	"github.com/theDeemoonn/foodMobile/gateway"
	apperrors "github.com/theDeemoonn/foodMobile/internal/errors"
	"github.com/theDeemoonn/foodMobile/validation"
)

// Backend routes used by the session, relative to the public base URL.
const (
	RouteLogin    = "/auth/login"
	RouteRegister = "/auth/register"
	RouteConfirm  = "/auth/confirm"
	RouteValidate = "/auth/validate"
	RouteRefresh  = "/auth/refresh"
	RouteLogout   = "/auth/logout"
)

// Requester sends backend requests; *gateway.Gateway implements it.
type Requester interface {
	Post(ctx context.Context, path string, body any, opts ...gateway.RequestOption) (*gateway.Response, error)
}

var _ gateway.Refresher = (*Manager)(nil)

// Manager is the process-wide session. Construct one at startup and inject it
// wherever the auth state is needed.
type Manager struct {
	api          Requester
	store        credentials.Store
	validator    *validation.Validator
	logger       zerolog.Logger
	notifyLogout bool
	nowTime      func() time.Time

	// persistLock orders credential writes against logout wipes.
	persistLock sync.Mutex

	lock       sync.Mutex
	state      State
	inFlight   bool
	generation uint64
	closed     bool
	observers  map[int]func(State)
	nextID     int
}

// Option defines a function type to modify the Manager instance.
type Option func(*Manager)

func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

func WithValidator(v *validation.Validator) Option {
	return func(m *Manager) {
		m.validator = v
	}
}

// WithNotifyBackendOnLogout makes Logout tell the backend after the local wipe.
func WithNotifyBackendOnLogout(notify bool) Option {
	return func(m *Manager) {
		m.notifyLogout = notify
	}
}

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(m *Manager) {
		m.nowTime = nowFunc
	}
}

func New(api Requester, store credentials.Store, options ...Option) (*Manager, error) {
	if api == nil {
		return nil, errors.New("[session.New] requester is required")
	}
	if store == nil {
		return nil, errors.New("[session.New] credential store is required")
	}
	m := &Manager{
		api:       api,
		store:     store,
		validator: validation.New(validation.DefaultPasswordMinLength),
		logger:    log.Logger,
		nowTime:   time.Now,
		state:     newState(),
		observers: make(map[int]func(State)),
	}
	for _, opt := range options {
		opt(m)
	}
	return m, nil
}

// State returns a copy of the current state.
func (m *Manager) State() State {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.state
}

func (m *Manager) IsAuthenticated() bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.state.IsAuthenticated
}

// Subscribe registers fn to receive every new state. The returned function
// removes the subscription.
func (m *Manager) Subscribe(fn func(State)) (unsubscribe func()) {
	m.lock.Lock()
	defer m.lock.Unlock()
	id := m.nextID
	m.nextID++
	m.observers[id] = fn
	return func() {
		m.lock.Lock()
		defer m.lock.Unlock()
		delete(m.observers, id)
	}
}

// Close detaches the manager: observers are dropped and results of calls
// still in flight are no longer applied. Durable writes already made stay.
func (m *Manager) Close() {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.closed = true
	m.generation++
	m.observers = make(map[int]func(State))
}

func (m *Manager) SetEmail(email string) {
	m.update(func(s *State) { s.Form.Email = email })
}

func (m *Manager) SetPassword(password string) {
	m.update(func(s *State) { s.Form.Password = password })
}

func (m *Manager) SetConfirmPassword(confirm string) {
	m.update(func(s *State) { s.Form.ConfirmPassword = confirm })
}

// ValidateEmail checks the email field and records its error.
func (m *Manager) ValidateEmail() bool {
	return m.validateField(func(f Form) error { return m.validator.Email(f.Email) }, func(f *Form, msg string) { f.EmailError = msg })
}

func (m *Manager) ValidatePassword() bool {
	return m.validateField(func(f Form) error { return m.validator.Password(f.Password) }, func(f *Form, msg string) { f.PasswordError = msg })
}

func (m *Manager) ValidateConfirmPassword() bool {
	return m.validateField(func(f Form) error { return m.validator.ConfirmPassword(f.Password, f.ConfirmPassword) },
		func(f *Form, msg string) { f.ConfirmPasswordError = msg })
}

func (m *Manager) validateField(check func(Form) error, set func(*Form, string)) bool {
	var ok bool
	m.update(func(s *State) {
		err := check(s.Form)
		set(&s.Form, fieldMessage(err))
		ok = err == nil
	})
	return ok
}

// Login validates the form and exchanges email and password for credentials.
// Validation failures set the field errors and never reach the network.
func (m *Manager) Login(ctx context.Context) error {
	form, c, err := m.begin("Login", func(f Form) error { return m.validator.Login(f.Email, f.Password) })
	if err != nil {
		return err
	}

	resp, err := m.api.Post(ctx, RouteLogin, credentialsRequest{Email: form.Email, Password: form.Password}, gateway.Public())
	if err != nil {
		return m.fail(c, StatusUnauthenticated, errors.Wrap(err, "[Manager.Login] login request"))
	}
	var tr tokenResponse
	if err := resp.Decode(&tr); err != nil || tr.AccessToken == "" {
		return m.fail(c, StatusUnauthenticated, invalidTokenResponse("Login", err))
	}
	if err := m.authenticate(ctx, c, tr, "Signed in"); err != nil {
		return m.fail(c, StatusUnauthenticated, errors.Wrap(err, "[Manager.Login]"))
	}
	m.logger.Info().Msg("login succeeded")
	return nil
}

// Register creates an account. Depending on the backend the session either
// becomes authenticated or waits for an email confirmation code.
func (m *Manager) Register(ctx context.Context) error {
	form, c, err := m.begin("Register", func(f Form) error {
		return m.validator.Register(f.Email, f.Password, f.ConfirmPassword)
	})
	if err != nil {
		return err
	}

	resp, err := m.api.Post(ctx, RouteRegister, credentialsRequest{Email: form.Email, Password: form.Password}, gateway.Public())
	if err != nil {
		return m.fail(c, StatusUnauthenticated, errors.Wrap(err, "[Manager.Register] register request"))
	}
	var tr tokenResponse
	if err := resp.Decode(&tr); err != nil {
		return m.fail(c, StatusUnauthenticated, invalidTokenResponse("Register", err))
	}

	if tr.ConfirmationRequired || tr.AccessToken == "" {
		m.finish(c, func(s *State) {
			s.Status = StatusAwaitingConfirmation
			s.PendingEmail = form.Email
			s.Form.Password, s.Form.ConfirmPassword = "", ""
			s.Message = "Check your inbox for a confirmation code"
		})
		m.logger.Info().Msg("registration awaiting email confirmation")
		return nil
	}

	if err := m.authenticate(ctx, c, tr, "Registered"); err != nil {
		return m.fail(c, StatusUnauthenticated, errors.Wrap(err, "[Manager.Register]"))
	}
	m.logger.Info().Msg("registration succeeded")
	return nil
}

// ConfirmEmail submits the code sent after registration. On failure the
// session keeps waiting for a code.
func (m *Manager) ConfirmEmail(ctx context.Context, code string) error {
	m.lock.Lock()
	if m.closed {
		m.lock.Unlock()
		return apperrors.E(apperrors.KindUnknown, "ConfirmEmail", apperrors.ErrClosed)
	}
	if m.inFlight {
		m.lock.Unlock()
		return apperrors.E(apperrors.KindBusy, "ConfirmEmail", apperrors.ErrBusy)
	}
	if m.state.Status != StatusAwaitingConfirmation {
		m.lock.Unlock()
		return apperrors.E(apperrors.KindValidation, "ConfirmEmail", apperrors.ErrNotAwaitingConfirm)
	}
	if code == "" {
		m.lock.Unlock()
		return apperrors.E(apperrors.KindValidation, "ConfirmEmail", errors.New("confirmation code is required"))
	}
	email := m.state.PendingEmail
	m.inFlight = true
	m.state.Status = StatusAuthenticating
	m.state.IsLoading = true
	c := call{gen: m.generation, guarded: true}
	snapshot, observers := m.snapshotLocked()
	m.lock.Unlock()
	notify(snapshot, observers)

	resp, err := m.api.Post(ctx, RouteConfirm, confirmRequest{Email: email, Code: code}, gateway.Public())
	if err != nil {
		return m.fail(c, StatusAwaitingConfirmation, errors.Wrap(err, "[Manager.ConfirmEmail] confirm request"))
	}
	var tr tokenResponse
	if err := resp.Decode(&tr); err != nil || tr.AccessToken == "" {
		return m.fail(c, StatusAwaitingConfirmation, invalidTokenResponse("ConfirmEmail", err))
	}
	if err := m.authenticate(ctx, c, tr, "Email confirmed"); err != nil {
		return m.fail(c, StatusAwaitingConfirmation, errors.Wrap(err, "[Manager.ConfirmEmail]"))
	}
	return nil
}

// Logout always ends the session. Stored credentials are removed first; the
// state becomes unauthenticated even if that removal fails, in which case the
// persistence error is returned. A backend notification, when enabled, is
// best effort.
func (m *Manager) Logout(ctx context.Context) error {
	var rec credentials.Record
	if m.notifyLogout {
		var err error
		if rec, err = credentials.Load(ctx, m.store); err != nil {
			m.logger.Warn().Err(err).Msg("could not read credentials for logout notification")
		}
	}

	m.persistLock.Lock()
	clearErr := credentials.Clear(ctx, m.store)
	if clearErr != nil {
		m.logger.Err(clearErr).Msg("failed to clear credentials on logout")
	}

	m.lock.Lock()
	if !m.closed {
		// Results of calls started before logout must not resurrect the session.
		m.generation++
		m.inFlight = false
		m.state = newState()
		m.state.Message = "Signed out"
	}
	snapshot, observers := m.snapshotLocked()
	closed := m.closed
	m.lock.Unlock()
	m.persistLock.Unlock()
	if !closed {
		notify(snapshot, observers)
	}

	if m.notifyLogout && (rec.RefreshToken != "" || rec.SessionID != "") {
		body := logoutRequest{RefreshToken: rec.RefreshToken, SessionID: rec.SessionID}
		if _, err := m.api.Post(ctx, RouteLogout, body, gateway.Public()); err != nil {
			m.logger.Warn().Err(err).Msg("logout notification failed")
		}
	}

	m.logger.Info().Msg("logged out")
	if clearErr != nil {
		return errors.Wrap(clearErr, "[Manager.Logout]")
	}
	return nil
}

// CheckAuth recovers the session at startup. With no stored tokens it makes
// no network call. A stored access token is checked with the backend; if it is
// rejected the stored refresh token is tried. Only one of those succeeding
// leaves the session authenticated.
func (m *Manager) CheckAuth(ctx context.Context) error {
	_, c, err := m.begin("CheckAuth", nil)
	if err != nil {
		return err
	}

	rec, err := credentials.Load(ctx, m.store)
	if err != nil {
		return m.fail(c, StatusUnauthenticated, errors.Wrap(err, "[Manager.CheckAuth]"))
	}
	if rec.AccessToken == "" && rec.RefreshToken == "" {
		m.finish(c, func(s *State) {
			*s = newState()
		})
		return nil
	}

	if rec.AccessToken != "" && !m.locallyExpired(rec.AccessToken) {
		_, err := m.api.Post(ctx, RouteValidate, validateRequest{AccessToken: rec.AccessToken}, gateway.Public())
		if err == nil {
			m.finish(c, func(s *State) {
				s.setCredentials(rec)
				s.Status = StatusAuthenticated
				s.IsAuthenticated = true
			})
			m.logger.Info().Msg("stored session is valid")
			return nil
		}
		if apperrors.KindOf(err) == apperrors.KindNetwork {
			// Offline: keep the credentials for the next attempt.
			return m.fail(c, StatusUnauthenticated, errors.Wrap(err, "[Manager.CheckAuth] validate"))
		}
		m.logger.Debug().Err(err).Msg("stored access token rejected")
	}

	if err := m.refresh(ctx, c, rec); err != nil {
		return err
	}
	return nil
}

// Refresh exchanges the stored refresh token for new credentials. It is what
// the gateway calls after a 401. A rejected refresh wipes the credentials and
// ends the session with a KindSessionExpired error.
func (m *Manager) Refresh(ctx context.Context) error {
	rec, err := credentials.Load(ctx, m.store)
	if err != nil {
		return errors.Wrap(err, "[Manager.Refresh]")
	}
	m.lock.Lock()
	c := call{gen: m.generation}
	m.lock.Unlock()
	return m.refresh(ctx, c, rec)
}

func (m *Manager) refresh(ctx context.Context, c call, rec credentials.Record) error {
	if rec.RefreshToken == "" {
		return m.expire(ctx, c, apperrors.ErrNoRefreshToken)
	}

	resp, err := m.api.Post(ctx, RouteRefresh, refreshRequest{RefreshToken: rec.RefreshToken}, gateway.Public())
	if err != nil {
		if apperrors.KindOf(err) == apperrors.KindNetwork {
			return m.fail(c, StatusUnauthenticated, errors.Wrap(err, "[Manager.refresh] refresh request"))
		}
		return m.expire(ctx, c, err)
	}
	var tr tokenResponse
	if err := resp.Decode(&tr); err != nil || tr.AccessToken == "" {
		return m.expire(ctx, c, invalidTokenResponse("refresh", err))
	}
	// Servers that do not rotate refresh tokens or sessions omit them.
	if tr.RefreshToken == "" {
		tr.RefreshToken = rec.RefreshToken
	}
	if tr.SessionID == "" {
		tr.SessionID = rec.SessionID
	}

	if err := m.authenticate(ctx, c, tr, ""); err != nil {
		return m.fail(c, StatusUnauthenticated, errors.Wrap(err, "[Manager.refresh]"))
	}
	m.logger.Debug().Msg("credentials refreshed")
	return nil
}

// expire wipes the credentials after a rejected refresh.
func (m *Manager) expire(ctx context.Context, c call, cause error) error {
	if err := credentials.Clear(context.WithoutCancel(ctx), m.store); err != nil {
		m.logger.Err(err).Msg("failed to clear credentials after refresh rejection")
	}
	err := apperrors.E(apperrors.KindSessionExpired, "refresh", errors.Wrap(cause, apperrors.ErrRefreshRejected.Error()))
	m.finish(c, func(s *State) {
		*s = newState()
		s.Message = apperrors.UserMessage(err)
	})
	m.logger.Warn().Err(cause).Msg("session expired")
	return err
}

// authenticate persists tr and only then marks the session authenticated.
// A logout cannot run between the generation check and the state change.
func (m *Manager) authenticate(ctx context.Context, c call, tr tokenResponse, message string) error {
	m.persistLock.Lock()
	if !m.current(c) {
		m.persistLock.Unlock()
		return apperrors.E(apperrors.KindUnknown, "authenticate", apperrors.ErrClosed)
	}
	rec := credentials.Record{AccessToken: tr.AccessToken, RefreshToken: tr.RefreshToken, SessionID: tr.SessionID}
	if err := credentials.Save(ctx, m.store, rec); err != nil {
		if clearErr := credentials.Clear(context.WithoutCancel(ctx), m.store); clearErr != nil {
			m.logger.Err(clearErr).Msg("failed to remove partially written credentials")
		}
		m.persistLock.Unlock()
		return err
	}
	snapshot, observers, applied := m.settle(c, func(s *State) {
		s.setCredentials(rec)
		s.Status = StatusAuthenticated
		s.IsAuthenticated = true
		s.PendingEmail = ""
		s.Form.Password, s.Form.ConfirmPassword = "", ""
		if message != "" {
			s.Message = message
		}
	})
	m.persistLock.Unlock()
	if !applied {
		return apperrors.E(apperrors.KindUnknown, "authenticate", apperrors.ErrClosed)
	}
	notify(snapshot, observers)
	return nil
}

func (s *State) setCredentials(rec credentials.Record) {
	s.AccessToken = rec.AccessToken
	s.RefreshToken = rec.RefreshToken
	s.SessionID = rec.SessionID
	s.AccessTokenExpiry = accessTokenExpiry(rec.AccessToken)
}

func (m *Manager) locallyExpired(accessToken string) bool {
	exp := accessTokenExpiry(accessToken)
	return !exp.IsZero() && !exp.After(m.nowTime())
}

// begin takes the in-flight guard. validate, when set, runs against the form
// first; its failure records the field errors and returns a KindValidation
// error without taking the guard.
func (m *Manager) begin(op string, validate func(Form) error) (Form, call, error) {
	m.lock.Lock()
	if m.closed {
		m.lock.Unlock()
		return Form{}, call{}, apperrors.E(apperrors.KindUnknown, op, apperrors.ErrClosed)
	}
	if m.inFlight {
		m.lock.Unlock()
		return Form{}, call{}, apperrors.E(apperrors.KindBusy, op, apperrors.ErrBusy)
	}

	if validate != nil {
		err := validate(m.state.Form)
		applyFieldErrors(&m.state.Form, err)
		if err != nil {
			m.state.Message = apperrors.UserMessage(apperrors.E(apperrors.KindValidation, op, err))
			snapshot, observers := m.snapshotLocked()
			m.lock.Unlock()
			notify(snapshot, observers)
			return Form{}, call{}, apperrors.E(apperrors.KindValidation, op, err)
		}
	}

	m.inFlight = true
	m.state.Status = StatusAuthenticating
	m.state.IsLoading = true
	m.state.IsAuthenticated = false
	m.state.Message = ""
	form := m.state.Form
	c := call{gen: m.generation, guarded: true}
	snapshot, observers := m.snapshotLocked()
	m.lock.Unlock()
	notify(snapshot, observers)
	return form, c, nil
}

// call identifies one operation: the generation it started in and whether it
// holds the in-flight guard.
type call struct {
	gen     uint64
	guarded bool
}

// finish applies mutate if c is still current, releases the guard c holds and
// notifies observers.
func (m *Manager) finish(c call, mutate func(*State)) {
	if snapshot, observers, ok := m.settle(c, mutate); ok {
		notify(snapshot, observers)
	}
}

// settle is finish without the notification. It reports whether mutate ran.
func (m *Manager) settle(c call, mutate func(*State)) (State, []func(State), bool) {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.closed || c.gen != m.generation {
		return State{}, nil, false
	}
	mutate(&m.state)
	if c.guarded {
		m.inFlight = false
		m.state.IsLoading = false
	}
	snapshot, observers := m.snapshotLocked()
	return snapshot, observers, true
}

// fail records err as the user-visible message and moves to status.
func (m *Manager) fail(c call, status Status, err error) error {
	m.finish(c, func(s *State) {
		s.Status = status
		s.IsAuthenticated = false
		if status == StatusUnauthenticated {
			s.AccessToken, s.RefreshToken, s.SessionID = "", "", ""
			s.AccessTokenExpiry = time.Time{}
		}
		s.Message = apperrors.UserMessage(err)
	})
	m.logger.Warn().Err(err).Str("status", string(status)).Msg("session operation failed")
	return err
}

func (m *Manager) current(c call) bool {
	m.lock.Lock()
	defer m.lock.Unlock()
	return !m.closed && c.gen == m.generation
}

func (m *Manager) update(mutate func(*State)) {
	m.lock.Lock()
	mutate(&m.state)
	snapshot, observers := m.snapshotLocked()
	m.lock.Unlock()
	notify(snapshot, observers)
}

func (m *Manager) snapshotLocked() (State, []func(State)) {
	observers := make([]func(State), 0, len(m.observers))
	for _, fn := range m.observers {
		observers = append(observers, fn)
	}
	return m.state, observers
}

func notify(s State, observers []func(State)) {
	for _, fn := range observers {
		fn(s)
	}
}

func applyFieldErrors(f *Form, err error) {
	var fieldErrs validation.Errors
	if !errors.As(err, &fieldErrs) {
		fieldErrs = nil
	}
	f.EmailError = fieldErrs.Message(validation.FieldEmail)
	f.PasswordError = fieldErrs.Message(validation.FieldPassword)
	f.ConfirmPasswordError = fieldErrs.Message(validation.FieldConfirmPassword)
}

func fieldMessage(err error) string {
	var fe *validation.FieldError
	if errors.As(err, &fe) {
		return fe.Message
	}
	return ""
}

func invalidTokenResponse(op string, cause error) error {
	if cause == nil {
		cause = apperrors.ErrInvalidToken
	}
	return apperrors.E(apperrors.KindHTTP, op, errors.Wrap(cause, "unexpected token response"))
}
