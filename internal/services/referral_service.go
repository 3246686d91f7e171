package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"

	"soltybet/internal/models"
	"soltybet/internal/repository"
)

var refCodePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,20}$`)

// ReferralService manages referral codes and referrer links
type ReferralService struct {
	repo *repository.Repository
}

func NewReferralService(repo *repository.Repository) *ReferralService {
	return &ReferralService{repo: repo}
}

// SetReferralCode registers code as the user's referral code
func (s *ReferralService) SetReferralCode(ctx context.Context, userID uint, code string) (string, error) {
	code = strings.TrimSpace(code)
	if !refCodePattern.MatchString(code) {
		return "", ErrInvalidRefCode
	}

	taken, err := s.repo.RefCodeTaken(ctx, code, userID)
	if err != nil {
		return "", err
	}
	if taken {
		return "", ErrRefCodeTaken
	}

	if err := s.repo.SetRefCode(ctx, userID, code); err != nil {
		// the unique index catches a concurrent claim
		if taken, _ := s.repo.RefCodeTaken(ctx, code, userID); taken {
			return "", ErrRefCodeTaken
		}
		return "", fmt.Errorf("failed to set referral code: %w", err)
	}

	log.Printf("[Referral] user %d registered code %s", userID, code)
	return code, nil
}

// ApplyReferralCode links the user to the owner of code. It can only happen once.
func (s *ReferralService) ApplyReferralCode(ctx context.Context, userID uint, code string) (*models.User, error) {
	referrer, err := s.LookupCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if referrer.ID == userID {
		return nil, ErrSelfReferral
	}

	err = s.repo.SetReferrer(ctx, userID, referrer.ID)
	if errors.Is(err, repository.ErrConflict) {
		return nil, ErrReferrerAlreadySet
	}
	if err != nil {
		return nil, fmt.Errorf("failed to set referrer: %w", err)
	}

	log.Printf("[Referral] user %d referred by user %d", userID, referrer.ID)
	return referrer, nil
}

// LookupCode returns the owner of a referral code
func (s *ReferralService) LookupCode(ctx context.Context, code string) (*models.User, error) {
	code = strings.TrimSpace(code)
	if !refCodePattern.MatchString(code) {
		return nil, ErrInvalidRefCode
	}
	user, err := s.repo.GetUserByRefCode(ctx, code)
	if repository.IsNotFound(err) {
		return nil, ErrRefCodeUnknown
	}
	return user, err
}

// ReferrerWallet returns the wallet of the user's referrer, or "" when there is none.
// Clients put it in the bet memo.
func (s *ReferralService) ReferrerWallet(ctx context.Context, userID uint) (string, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if repository.IsNotFound(err) {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", err
	}
	if user.ReferrerID == nil {
		return "", nil
	}
	referrer, err := s.repo.GetUserByID(ctx, *user.ReferrerID)
	if err != nil {
		return "", err
	}
	return referrer.WalletAddress, nil
}
