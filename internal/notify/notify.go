// Package notify delivers one-line feedback summaries over SMS via Twilio.
//
// Delivery is strictly best-effort: a user without a phone number is skipped
// silently, and send failures are returned for logging but never block the
// session lifecycle.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/voxprep/VoxPrep/internal/models"
	"github.com/voxprep/VoxPrep/internal/store"
)

// maxCommentLength bounds the comment portion of the SMS body.
const maxCommentLength = 200

// Opts holds configuration options for the SMS notifier.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

// Option defines a configuration option for the SMS notifier.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromNumber sets the sending phone number in E.164 format.
func WithFromNumber(from string) Option {
	return func(o *Opts) { o.FromNumber = from }
}

// messageAPI is the slice of the Twilio REST client the notifier uses,
// extracted so tests can capture outgoing messages.
type messageAPI interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// SMSNotifier sends feedback summaries to the user's verified phone number.
type SMSNotifier struct {
	api        messageAPI
	store      store.Store
	fromNumber string
}

// NewSMSNotifier creates a Twilio-backed notifier. Credentials fall back to
// the TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN, and TWILIO_FROM_NUMBER
// environment variables.
func NewSMSNotifier(st store.Store, opts ...Option) (*SMSNotifier, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromNumber == "" {
		cfg.FromNumber = os.Getenv("TWILIO_FROM_NUMBER")
	}

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromNumber == "" {
		return nil, fmt.Errorf("from number must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})

	return &SMSNotifier{
		api:        client.Api,
		store:      st,
		fromNumber: cfg.FromNumber,
	}, nil
}

// SendFeedbackSummary texts the user a one-line feedback summary. Users with
// no mirrored phone number are skipped without error.
func (n *SMSNotifier) SendFeedbackSummary(ctx context.Context, userID string, rec models.FeedbackRecord) error {
	if userID == "" {
		return models.ErrEmptyUserID
	}

	identity, err := n.store.GetUserIdentity(userID)
	if err != nil {
		return fmt.Errorf("failed to load user identity: %w", err)
	}
	if identity == nil || identity.Phone == "" {
		slog.Debug("SMSNotifier.SendFeedbackSummary: no phone number, skipping", "userID", userID)
		return nil
	}

	body := buildSummary(identity.FirstName, rec)
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(identity.Phone)
	params.SetFrom(n.fromNumber)
	params.SetBody(body)

	if _, err := n.api.CreateMessage(params); err != nil {
		slog.Error("SMSNotifier.SendFeedbackSummary: send failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to send feedback summary: %w", err)
	}

	slog.Debug("SMSNotifier.SendFeedbackSummary: summary sent", "userID", userID)
	return nil
}

// buildSummary renders the SMS body. Records that never got a structured
// score fall back to a generic ready notice instead of quoting raw analysis
// text into a text message.
func buildSummary(firstName string, rec models.FeedbackRecord) string {
	greeting := "Hi"
	if firstName != "" {
		greeting = "Hi " + firstName
	}
	if rec.Score <= 0 && rec.Comment == "" {
		return fmt.Sprintf("%s, your interview feedback is ready. Open VoxPrep to read it.", greeting)
	}

	comment := truncateComment(rec.Comment, maxCommentLength)
	if comment != "" {
		return fmt.Sprintf("%s, your interview feedback is ready. Score: %.0f/10. %s", greeting, rec.Score, comment)
	}
	return fmt.Sprintf("%s, your interview feedback is ready. Score: %.0f/10.", greeting, rec.Score)
}

// truncateComment caps the comment at max runes. Cutting on a byte offset
// could split a multi-byte character and put mojibake in the SMS.
func truncateComment(comment string, max int) string {
	runes := []rune(comment)
	if len(runes) <= max {
		return comment
	}
	return string(runes[:max]) + "…"
}
