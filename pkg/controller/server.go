package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/cors"

	"github.com/Seann-Moser/servobit/pkg/errcode"
	"github.com/Seann-Moser/servobit/pkg/indicator"
	"github.com/Seann-Moser/servobit/pkg/servo"
)

const (
	defaultWait = 10 * time.Second
	maxWait     = time.Minute

	defaultFlash = 500 * time.Millisecond
)

type apiMethod func(r *http.Request) (interface{}, error)

type apiCall struct {
	c         *Controller
	theMethod apiMethod
}

type apiError struct {
	Error   errcode.Code `json:"error"`
	Message string       `json:"message"`
}

func statusOf(code errcode.Code) int {
	switch code {
	case errcode.InvalidChannel, errcode.InvalidParams, errcode.InvalidPayload:
		return http.StatusBadRequest
	case errcode.Timeout:
		return http.StatusGatewayTimeout
	case errcode.StripOpen, errcode.StripWrite, errcode.NoBus:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (ac *apiCall) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	res, err := ac.theMethod(r)
	if err != nil {
		code := errcode.Of(err)
		ac.c.logger.Warnw("error in api call", "path", r.URL.Path, "code", code, "error", err)
		status = statusOf(code)
		res = apiError{Error: code, Message: err.Error()}
	}
	if res == nil {
		res = map[string]interface{}{"ok": true}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		ac.c.logger.Warnw("cannot marshal json", "error", err)
	}
}

// Handler returns the HTTP API.
func (c *Controller) Handler() http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern string, m apiMethod) {
		mux.Handle(pattern, &apiCall{c: c, theMethod: m})
	}

	handle("GET /api/servos", c.handleStates)
	handle("POST /api/servos/centre", c.handleCentre)
	handle("GET /api/servos/{channel}", c.handleState)
	handle("POST /api/servos/{channel}/angle", c.handleSetAngle)
	handle("POST /api/servos/{channel}/move", c.handleMove)
	handle("DELETE /api/servos/{channel}/move", c.handleStop)
	handle("POST /api/servos/{channel}/wait", c.handleWait)

	handle("GET /api/indicator", c.handleIndicator)
	handle("POST /api/indicator/color", c.handleColor)
	handle("POST /api/indicator/clear", c.handleClear)
	handle("POST /api/indicator/brightness", c.handleBrightness)
	handle("POST /api/indicator/flash", c.handleFlash)
	handle("DELETE /api/indicator/flash", c.handleStopFlash)

	handle("GET /api/diagnostics", c.handleDiagnostics)
	handle("GET /api/config", c.handleGetSettings)
	handle("POST /api/config", c.handleSaveSettings)

	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
	}).Handler(mux)
}

// StartServer serves the HTTP API on the configured address until ctx is
// done.
func (c *Controller) StartServer(ctx context.Context) error {
	srv := &http.Server{
		Addr:              c.Configuration.Listen,
		Handler:           c.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errs := make(chan error, 1)
	go func() {
		c.logger.Infow("server running", "addr", "http://"+srv.Addr)
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return errors.Wrap(err, "http server")
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func channelOf(r *http.Request) (int, error) {
	ch, err := strconv.Atoi(r.PathValue("channel"))
	if err != nil {
		return 0, errors.Wrapf(errcode.InvalidChannel, "channel %q", r.PathValue("channel"))
	}
	return ch, nil
}

func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Wrap(errcode.InvalidPayload, err.Error())
	}
	return nil
}

func (c *Controller) handleStates(r *http.Request) (interface{}, error) {
	return c.Servos.States(), nil
}

func (c *Controller) handleState(r *http.Request) (interface{}, error) {
	ch, err := channelOf(r)
	if err != nil {
		return nil, err
	}
	return c.Servos.State(ch)
}

func (c *Controller) handleCentre(r *http.Request) (interface{}, error) {
	c.Servos.CentreAll()
	return c.Servos.States(), nil
}

type angleRequest struct {
	Angle *int `json:"angle"`
	Speed int  `json:"speed"`
}

func (c *Controller) readAngle(r *http.Request) (int, angleRequest, error) {
	ch, err := channelOf(r)
	if err != nil {
		return 0, angleRequest{}, err
	}
	var req angleRequest
	if err := decode(r, &req); err != nil {
		return 0, req, err
	}
	if req.Angle == nil {
		return 0, req, errors.Wrap(errcode.InvalidParams, "angle is required")
	}
	return ch, req, nil
}

func (c *Controller) handleSetAngle(r *http.Request) (interface{}, error) {
	ch, req, err := c.readAngle(r)
	if err != nil {
		return nil, err
	}
	if err := c.Servos.SetAngle(ch, *req.Angle); err != nil {
		return nil, err
	}
	return c.Servos.State(ch)
}

func (c *Controller) handleMove(r *http.Request) (interface{}, error) {
	ch, req, err := c.readAngle(r)
	if err != nil {
		return nil, err
	}
	if err := c.Servos.MoveTo(ch, *req.Angle, req.Speed); err != nil {
		return nil, err
	}
	return c.Servos.State(ch)
}

func (c *Controller) handleStop(r *http.Request) (interface{}, error) {
	ch, err := channelOf(r)
	if err != nil {
		return nil, err
	}
	if err := c.Servos.Stop(ch); err != nil {
		return nil, err
	}
	return c.Servos.State(ch)
}

func (c *Controller) handleWait(r *http.Request) (interface{}, error) {
	ch, err := channelOf(r)
	if err != nil {
		return nil, err
	}
	timeout := defaultWait
	if s := r.URL.Query().Get("timeout"); s != "" {
		timeout, err = time.ParseDuration(s)
		if err != nil || timeout <= 0 {
			return nil, errors.Wrapf(errcode.InvalidParams, "timeout %q", s)
		}
		if timeout > maxWait {
			timeout = maxWait
		}
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()
	if err := c.Servos.WaitUntilDone(ctx, ch); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, errors.Wrapf(errcode.Timeout, "servo %d still moving after %s", ch, timeout)
		}
		return nil, err
	}
	return c.Servos.State(ch)
}

// stripErr keeps the code of a strip failure, defaulting to StripWrite.
func stripErr(err error) error {
	if errcode.Of(err) != errcode.Error {
		return err
	}
	return &errcode.E{C: errcode.StripWrite, Op: "indicator", Err: err}
}

func (c *Controller) handleIndicator(r *http.Request) (interface{}, error) {
	return c.Indicator.Snapshot(), nil
}

type colorRequest struct {
	Color      string `json:"color"`
	IntervalMS int    `json:"interval_ms"`
}

func (c *Controller) handleColor(r *http.Request) (interface{}, error) {
	var req colorRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	rgb, err := indicator.ParseColor(req.Color)
	if err != nil {
		return nil, err
	}
	if err := c.Indicator.SetColor(rgb); err != nil {
		return nil, stripErr(err)
	}
	return c.Indicator.Snapshot(), nil
}

func (c *Controller) handleClear(r *http.Request) (interface{}, error) {
	if err := c.Indicator.Clear(); err != nil {
		return nil, stripErr(err)
	}
	return c.Indicator.Snapshot(), nil
}

type brightnessRequest struct {
	Level *int `json:"level"`
}

func (c *Controller) handleBrightness(r *http.Request) (interface{}, error) {
	var req brightnessRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	if req.Level == nil || *req.Level < 0 || *req.Level > 255 {
		return nil, errors.Wrap(errcode.InvalidParams, "level must be in [0, 255]")
	}
	if err := c.Indicator.SetBrightness(uint8(*req.Level)); err != nil {
		return nil, stripErr(err)
	}
	return c.Indicator.Snapshot(), nil
}

func (c *Controller) handleFlash(r *http.Request) (interface{}, error) {
	var req colorRequest
	if err := decode(r, &req); err != nil {
		return nil, err
	}
	rgb, err := indicator.ParseColor(req.Color)
	if err != nil {
		return nil, err
	}
	interval := defaultFlash
	if req.IntervalMS > 0 {
		interval = time.Duration(req.IntervalMS) * time.Millisecond
	}
	started := c.Indicator.StartFlash(rgb, interval)
	return map[string]interface{}{"started": started}, nil
}

func (c *Controller) handleStopFlash(r *http.Request) (interface{}, error) {
	c.Indicator.StopFlash()
	return c.Indicator.Snapshot(), nil
}

type diagnostics struct {
	Servo          servo.Diagnostics  `json:"servo"`
	Indicator      indicator.Snapshot `json:"indicator"`
	OutputsEnabled bool               `json:"outputs_enabled"`
}

func (c *Controller) handleDiagnostics(r *http.Request) (interface{}, error) {
	return diagnostics{
		Servo:          c.Servos.Diagnostics(),
		Indicator:      c.Indicator.Snapshot(),
		OutputsEnabled: c.OutputsEnabled(),
	}, nil
}

func (c *Controller) handleGetSettings(r *http.Request) (interface{}, error) {
	return c.Configuration.clone(), nil
}

// handleSaveSettings validates and saves a new configuration. It takes
// effect on the next start.
func (c *Controller) handleSaveSettings(r *http.Request) (interface{}, error) {
	config := c.Configuration.clone()
	if err := decode(r, &config); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if err := config.Save(c.configPath); err != nil {
		return nil, err
	}
	c.logger.Infow("configuration saved", "path", c.configPath)
	return config, nil
}
