package session

import (
	"fmt"
	"time"
)

// connectConfig holds the resolved state of every ConnectOption, built
// the way the teacher's CallOption/UASUACOption pattern accumulates
// onto a config struct, but validated eagerly as each option applies
// rather than deferred to first use.
type connectConfig struct {
	anonymous        bool
	mediaConstraints MediaConstraints
	mediaStream      Stream
	extraHeaders     map[string]string
	dtlsConstraints  DTLSConstraints
}

func defaultConnectConfig() connectConfig {
	return connectConfig{
		mediaConstraints: MediaConstraints{Audio: true, Video: true},
		extraHeaders:     map[string]string{},
	}
}

// ConnectOption configures a call to Session.Connect, per the
// `connect` row of the configuration table in spec §6.
type ConnectOption func(*connectConfig) error

func WithAnonymous() ConnectOption {
	return func(c *connectConfig) error {
		c.anonymous = true
		return nil
	}
}

func WithMediaConstraints(mc MediaConstraints) ConnectOption {
	return func(c *connectConfig) error {
		c.mediaConstraints = mc
		return nil
	}
}

func WithMediaStream(s Stream) ConnectOption {
	return func(c *connectConfig) error {
		if s == nil {
			return fmt.Errorf("%w: nil media stream", ErrInvalidArgument)
		}
		c.mediaStream = s
		return nil
	}
}

func WithExtraHeader(name, value string) ConnectOption {
	return func(c *connectConfig) error {
		if name == "" {
			return fmt.Errorf("%w: empty header name", ErrInvalidArgument)
		}
		c.extraHeaders[name] = value
		return nil
	}
}

func WithDTLSConstraints(d DTLSConstraints) ConnectOption {
	return func(c *connectConfig) error {
		c.dtlsConstraints = d
		return nil
	}
}

func newConnectConfig(opts []ConnectOption) (connectConfig, error) {
	cfg := defaultConnectConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return connectConfig{}, err
		}
	}
	return cfg, nil
}

// answerConfig holds the resolved state of every AnswerOption.
type answerConfig struct {
	mediaConstraints MediaConstraints
	mediaStream      Stream
	extraHeaders     map[string]string
}

func defaultAnswerConfig() answerConfig {
	return answerConfig{
		mediaConstraints: MediaConstraints{Audio: true, Video: true},
		extraHeaders:     map[string]string{},
	}
}

// AnswerOption configures a call to Session.Answer.
type AnswerOption func(*answerConfig) error

func WithAnswerMediaConstraints(mc MediaConstraints) AnswerOption {
	return func(c *answerConfig) error {
		c.mediaConstraints = mc
		return nil
	}
}

func WithAnswerMediaStream(s Stream) AnswerOption {
	return func(c *answerConfig) error {
		if s == nil {
			return fmt.Errorf("%w: nil media stream", ErrInvalidArgument)
		}
		c.mediaStream = s
		return nil
	}
}

func WithAnswerExtraHeader(name, value string) AnswerOption {
	return func(c *answerConfig) error {
		if name == "" {
			return fmt.Errorf("%w: empty header name", ErrInvalidArgument)
		}
		c.extraHeaders[name] = value
		return nil
	}
}

func newAnswerConfig(opts []AnswerOption) (answerConfig, error) {
	cfg := defaultAnswerConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return answerConfig{}, err
		}
	}
	return cfg, nil
}

// terminateConfig holds the resolved state of every TerminateOption,
// per the role table in spec §4.1 ("Status-code validation").
type terminateConfig struct {
	statusCode   int
	reasonPhrase string
	cause        Cause
	extraHeaders map[string]string
	body         []byte
}

// TerminateOption configures a call to Session.Terminate.
type TerminateOption func(*terminateConfig) error

// WithStatusCode sets the final-response status code used when
// rejecting (UAS) or reporting (UAC) termination. UAC accepts
// [200,700) or leaving it unset; UAS reject requires [300,700) —
// validated in Session.Terminate against the caller's role, since the
// valid range depends on direction, not on the option alone.
func WithStatusCode(code int) TerminateOption {
	return func(c *terminateConfig) error {
		if code < 200 || code >= 700 {
			return fmt.Errorf("%w: status_code %d out of [200,700)", ErrInvalidArgument, code)
		}
		c.statusCode = code
		return nil
	}
}

func WithReasonPhrase(phrase string) TerminateOption {
	return func(c *terminateConfig) error {
		c.reasonPhrase = phrase
		return nil
	}
}

func WithTerminateCause(cause Cause) TerminateOption {
	return func(c *terminateConfig) error {
		c.cause = cause
		return nil
	}
}

func WithTerminateExtraHeader(name, value string) TerminateOption {
	return func(c *terminateConfig) error {
		if name == "" {
			return fmt.Errorf("%w: empty header name", ErrInvalidArgument)
		}
		if c.extraHeaders == nil {
			c.extraHeaders = map[string]string{}
		}
		c.extraHeaders[name] = value
		return nil
	}
}

func WithTerminateBody(body []byte) TerminateOption {
	return func(c *terminateConfig) error {
		c.body = body
		return nil
	}
}

func newTerminateConfig(opts []TerminateOption) (terminateConfig, error) {
	cfg := terminateConfig{extraHeaders: map[string]string{}}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return terminateConfig{}, err
		}
	}
	return cfg, nil
}

// DTMF pacing bounds, per spec §4.5 ("clamped to [MIN, MAX]").
const (
	DTMFMinDuration     = 70 * time.Millisecond
	DTMFMaxDuration     = 6000 * time.Millisecond
	DTMFDefaultDuration = 100 * time.Millisecond

	DTMFMinInterToneGap     = 50 * time.Millisecond
	DTMFMaxInterToneGap     = 6000 * time.Millisecond
	DTMFDefaultInterToneGap = 70 * time.Millisecond

	dtmfCommaPause = 2000 * time.Millisecond
)

// dtmfConfig holds the resolved state of every DTMFOption.
type dtmfConfig struct {
	duration     time.Duration
	interToneGap time.Duration
}

// DTMFOption configures a call to Session.SendDTMF.
type DTMFOption func(*dtmfConfig) error

func WithDTMFDuration(d time.Duration) DTMFOption {
	return func(c *dtmfConfig) error {
		if d <= 0 {
			return fmt.Errorf("%w: duration must be positive", ErrInvalidArgument)
		}
		c.duration = clampDuration(d, DTMFMinDuration, DTMFMaxDuration)
		return nil
	}
}

func WithDTMFInterToneGap(d time.Duration) DTMFOption {
	return func(c *dtmfConfig) error {
		if d <= 0 {
			return fmt.Errorf("%w: interToneGap must be positive", ErrInvalidArgument)
		}
		c.interToneGap = clampDuration(d, DTMFMinInterToneGap, DTMFMaxInterToneGap)
		return nil
	}
}

func newDTMFConfig(opts []DTMFOption) (dtmfConfig, error) {
	cfg := dtmfConfig{duration: DTMFDefaultDuration, interToneGap: DTMFDefaultInterToneGap}
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return dtmfConfig{}, err
		}
	}
	return cfg, nil
}

func clampDuration(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}
