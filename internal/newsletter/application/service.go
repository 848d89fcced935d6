package application

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
)

var (
	ErrBadEmail          = errors.New("invalid email address")
	ErrAlreadySubscribed = errors.New("already subscribed")
	ErrNotSubscribed     = errors.New("email not subscribed")
)

type SubscriberRepository interface {
	// Add inserts the email and reports false if it was already present.
	Add(ctx context.Context, email string) (bool, error)
	// Remove deletes the email and reports whether it existed.
	Remove(ctx context.Context, email string) (bool, error)
}

// WelcomeMailer sends the subscription confirmation. Best effort: a mail
// failure does not fail the subscription.
type WelcomeMailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

type Service struct {
	log    *slog.Logger
	repo   SubscriberRepository
	mailer WelcomeMailer
}

func NewService(log *slog.Logger, repo SubscriberRepository, mailer WelcomeMailer) *Service {
	return &Service{log: log, repo: repo, mailer: mailer}
}

func (s *Service) Subscribe(ctx context.Context, email string) error {
	if _, err := mail.ParseAddress(email); err != nil {
		return ErrBadEmail
	}
	added, err := s.repo.Add(ctx, email)
	if err != nil {
		return err
	}
	if !added {
		return ErrAlreadySubscribed
	}

	if err := s.mailer.Send(ctx, email, "Thank you for subscribing!",
		"Welcome to our newsletter! You'll now receive updates on our products and offers."); err != nil {
		s.log.Error("welcome email failed", "email", email, "err", err)
	}
	return nil
}

func (s *Service) Unsubscribe(ctx context.Context, email string) error {
	removed, err := s.repo.Remove(ctx, email)
	if err != nil {
		return err
	}
	if !removed {
		return ErrNotSubscribed
	}
	return nil
}
