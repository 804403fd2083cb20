package event

import (
	"context"
	"fmt"
	"log/slog"

	pkgkafka "github.com/AdityaNittala03/gonews-auth/pkg/kafka"
	"github.com/AdityaNittala03/gonews-auth/internal/domain"
)

// Kafka topic constants for auth domain events.
const (
	TopicOTPRequested      = "gonews.auth.otp_requested"
	TopicUserRegistered    = "gonews.user.registered"
	TopicUserUpdated       = "gonews.user.updated"
	TopicUserPasswordReset = "gonews.user.password_reset"
)

// Source identifier for events originating from the auth service.
const SourceAuthService = "gonews-auth"

// OTPRequestedData is the payload for an otp_requested event. A downstream
// notification consumer delivers the code to the user's email.
type OTPRequestedData struct {
	Email   string `json:"email"`
	Purpose string `json:"purpose"`
	Code    string `json:"code"`
}

// UserRegisteredData is the payload for a user.registered event.
type UserRegisteredData struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// UserUpdatedData is the payload for a user.updated event.
type UserUpdatedData struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

// UserPasswordResetData is the payload for a user.password_reset event.
type UserPasswordResetData struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
}

// Publisher is the subset of the Kafka producer the event layer needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes auth domain events to Kafka.
type Producer struct {
	kafka  Publisher
	logger *slog.Logger
}

// NewProducer creates a new event producer for the auth service.
func NewProducer(kafka Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishOTPRequested publishes an otp_requested event carrying the plain
// code for the notification pipeline. The code never lands in logs.
func (p *Producer) PublishOTPRequested(ctx context.Context, email string, purpose domain.OTPPurpose, code string) error {
	data := OTPRequestedData{
		Email:   email,
		Purpose: string(purpose),
		Code:    code,
	}

	event, err := pkgkafka.NewEvent("auth.otp_requested", email, SourceAuthService, data)
	if err != nil {
		return fmt.Errorf("create otp_requested event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicOTPRequested, event); err != nil {
		return fmt.Errorf("publish otp_requested event: %w", err)
	}

	p.logger.DebugContext(ctx, "published otp_requested event",
		slog.String("email", email),
		slog.String("purpose", string(purpose)),
	)

	return nil
}

// PublishUserRegistered publishes a user.registered event.
func (p *Producer) PublishUserRegistered(ctx context.Context, user *domain.User) error {
	data := UserRegisteredData{
		ID:    user.ID,
		Email: user.Email,
		Name:  user.Name,
	}

	event, err := pkgkafka.NewEvent("user.registered", user.ID, SourceAuthService, data)
	if err != nil {
		return fmt.Errorf("create user.registered event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicUserRegistered, event); err != nil {
		return fmt.Errorf("publish user.registered event: %w", err)
	}

	p.logger.DebugContext(ctx, "published user.registered event",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
	)

	return nil
}

// PublishUserUpdated publishes a user.updated event.
func (p *Producer) PublishUserUpdated(ctx context.Context, user *domain.User) error {
	data := UserUpdatedData{
		ID:    user.ID,
		Email: user.Email,
		Name:  user.Name,
		Phone: user.Phone,
	}

	event, err := pkgkafka.NewEvent("user.updated", user.ID, SourceAuthService, data)
	if err != nil {
		return fmt.Errorf("create user.updated event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicUserUpdated, event); err != nil {
		return fmt.Errorf("publish user.updated event: %w", err)
	}

	p.logger.DebugContext(ctx, "published user.updated event",
		slog.String("user_id", user.ID),
	)

	return nil
}

// PublishUserPasswordReset publishes a user.password_reset event.
func (p *Producer) PublishUserPasswordReset(ctx context.Context, userID, email string) error {
	data := UserPasswordResetData{
		UserID: userID,
		Email:  email,
	}

	event, err := pkgkafka.NewEvent("user.password_reset", userID, SourceAuthService, data)
	if err != nil {
		return fmt.Errorf("create user.password_reset event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicUserPasswordReset, event); err != nil {
		return fmt.Errorf("publish user.password_reset event: %w", err)
	}

	p.logger.DebugContext(ctx, "published user.password_reset event",
		slog.String("user_id", userID),
	)

	return nil
}
