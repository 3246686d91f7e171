package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"soltybet/internal/blockchain"
	"soltybet/internal/models"
	"soltybet/internal/repository"
	"soltybet/internal/utils"

	"github.com/shopspring/decimal"
)

// LoginMessage is the text a wallet signs to log in
const LoginMessage = "Sign this message to authenticate with SoltyBet"

const nicknameAttempts = 5

// AuthService handles authentication business logic
type AuthService struct {
	repo *repository.Repository
	now  func() time.Time
}

// NewAuthService creates a new AuthService
func NewAuthService(repo *repository.Repository) *AuthService {
	return &AuthService{repo: repo, now: time.Now}
}

// WalletLogin verifies the signed login message and finds or creates the user
func (s *AuthService) WalletLogin(ctx context.Context, walletAddress, signature string) (*models.User, error) {
	if err := blockchain.VerifyWalletSignature(walletAddress, LoginMessage, signature); err != nil {
		return nil, err
	}

	user, err := s.repo.GetUserByWallet(ctx, walletAddress)
	if err == nil {
		if err := s.repo.TouchLogin(ctx, user.ID, s.now()); err != nil {
			log.Printf("[Auth] failed to update last login of user %d: %v", user.ID, err)
		}
		log.Printf("[Auth] user logged in: wallet=%s (ID: %d)", walletAddress, user.ID)
		return user, nil
	}
	if !repository.IsNotFound(err) {
		return nil, fmt.Errorf("database error: %w", err)
	}

	nickname, err := s.freeNickname(ctx)
	if err != nil {
		return nil, err
	}

	user = &models.User{
		WalletAddress: walletAddress,
		Nickname:      nickname,
		TotalVolume:   decimal.Zero,
		TotalPayout:   decimal.Zero,
		TotalGain:     decimal.Zero,
		ReferralGain:  decimal.Zero,
		LastLogin:     s.now(),
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	log.Printf("[Auth] new user created: wallet=%s (ID: %d)", walletAddress, user.ID)
	return user, nil
}

func (s *AuthService) freeNickname(ctx context.Context) (string, error) {
	for i := 0; i < nicknameAttempts; i++ {
		nickname, err := utils.GenerateNickname()
		if err != nil {
			return "", err
		}
		taken, err := s.repo.NicknameTaken(ctx, nickname)
		if err != nil {
			return "", err
		}
		if !taken {
			return nickname, nil
		}
	}
	return "", fmt.Errorf("no free nickname after %d attempts", nicknameAttempts)
}

// GetUserByID retrieves a user by their ID
func (s *AuthService) GetUserByID(ctx context.Context, userID uint) (*models.User, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if repository.IsNotFound(err) {
		return nil, ErrUserNotFound
	}
	return user, err
}
