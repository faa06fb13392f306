// Package seed populates the database with realistic development data.
package seed

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/harborapp/harbor/internal/logger"
	"github.com/harborapp/harbor/internal/models"
)

// Seeder handles database seeding operations
type Seeder struct {
	db *gorm.DB
}

// NewSeeder creates a new seeder instance
func NewSeeder(db *gorm.DB) *Seeder {
	_ = gofakeit.Seed(time.Now().UnixNano())
	return &Seeder{db: db}
}

// SeedDev seeds the development database with realistic data
func (s *Seeder) SeedDev() error {
	logger.Log.Info("Creating users...")
	users, err := s.seedUsers(50)
	if err != nil {
		return fmt.Errorf("failed to seed users: %w", err)
	}

	logger.Log.Info("Creating messages...")
	if err := s.seedMessages(users, 500); err != nil {
		return fmt.Errorf("failed to seed messages: %w", err)
	}

	logger.Log.Info("Creating posts...")
	if err := s.seedPosts(users, 200); err != nil {
		return fmt.Errorf("failed to seed posts: %w", err)
	}

	logger.Log.Info("Creating groups...")
	if err := s.seedGroups(users, 10); err != nil {
		return fmt.Errorf("failed to seed groups: %w", err)
	}

	logger.Log.Info("Creating notifications...")
	if err := s.seedNotifications(users, 300); err != nil {
		return fmt.Errorf("failed to seed notifications: %w", err)
	}

	return nil
}

// SeedTest seeds a minimal fixture set for integration testing
func (s *Seeder) SeedTest() error {
	users, err := s.seedUsers(4)
	if err != nil {
		return fmt.Errorf("failed to seed users: %w", err)
	}
	if err := s.seedMessages(users, 20); err != nil {
		return fmt.Errorf("failed to seed messages: %w", err)
	}
	return nil
}

// Clean removes all seed data. Seed users are identified by their
// @example.com email domain.
func (s *Seeder) Clean() error {
	var users []models.User
	if err := s.db.Where("email LIKE '%@example.com'").Find(&users).Error; err != nil {
		return err
	}
	if len(users) == 0 {
		logger.Log.Info("No seed data found")
		return nil
	}

	ids := make([]string, len(users))
	for i, u := range users {
		ids[i] = u.ID
	}

	if err := s.db.Unscoped().Where("sender_id IN ? OR receiver_id IN ?", ids, ids).Delete(&models.Message{}).Error; err != nil {
		return err
	}
	if err := s.db.Where("user_id IN ?", ids).Delete(&models.Notification{}).Error; err != nil {
		return err
	}
	if err := s.db.Unscoped().Where("author_id IN ?", ids).Delete(&models.Post{}).Error; err != nil {
		return err
	}
	if err := s.db.Where("user_id IN ?", ids).Delete(&models.GroupMember{}).Error; err != nil {
		return err
	}
	if err := s.db.Unscoped().Where("owner_id IN ?", ids).Delete(&models.Group{}).Error; err != nil {
		return err
	}
	if err := s.db.Unscoped().Where("id IN ?", ids).Delete(&models.User{}).Error; err != nil {
		return err
	}

	logger.Log.Info("Removed seed data", zap.Int("users", len(users)))
	return nil
}

// seedUsers creates users with realistic profiles. All seed users share
// the password "password123" so any of them can be used to log in.
func (s *Seeder) seedUsers(count int) ([]models.User, error) {
	var existing []models.User
	s.db.Where("email LIKE '%@example.com'").Find(&existing)
	if len(existing) >= count {
		logger.Log.Info("Users already seeded, skipping",
			zap.Int("existing", len(existing)))
		return existing, nil
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	passwordHash := string(hashed)

	users := existing
	for i := len(existing); i < count; i++ {
		username := gofakeit.Username()
		lastActive := gofakeit.DateRange(time.Now().AddDate(0, 0, -30), time.Now())

		user := models.User{
			ID:           uuid.New().String(),
			Email:        fmt.Sprintf("%s@example.com", username),
			Username:     username,
			DisplayName:  gofakeit.Name(),
			Bio:          gofakeit.HipsterSentence(),
			// gofakeit v7 dropped ImageURL after v7.0.0; this is the
			// exact URL ImageURL(256, 256) used to return.
			AvatarURL:    "https://picsum.photos/256/256",
			PasswordHash: &passwordHash,
			LastActiveAt: &lastActive,
		}

		if err := s.db.Create(&user).Error; err != nil {
			// Username collisions from gofakeit are rare, just retry
			// with a fresh one.
			logger.Log.Warn("Failed to create seed user, retrying",
				zap.String("username", username),
				zap.Error(err))
			i--
			continue
		}
		users = append(users, user)
	}

	logger.Log.Info("Seeded users", zap.Int("count", len(users)))
	return users, nil
}

// seedMessages creates conversations between random user pairs, with a
// realistic mix of read and unread messages.
func (s *Seeder) seedMessages(users []models.User, count int) error {
	if len(users) < 2 {
		return fmt.Errorf("need at least 2 users to seed messages")
	}

	for i := 0; i < count; i++ {
		sender := users[rand.Intn(len(users))]
		receiver := users[rand.Intn(len(users))]
		if sender.ID == receiver.ID {
			continue
		}

		sentAt := gofakeit.DateRange(time.Now().AddDate(0, 0, -14), time.Now())
		message := models.Message{
			ID:         uuid.New().String(),
			SenderID:   sender.ID,
			ReceiverID: receiver.ID,
			Body:       gofakeit.Sentence(gofakeit.Number(3, 20)),
			CreatedAt:  sentAt,
		}

		// ~70% of older messages have been read
		if rand.Float64() < 0.7 {
			readAt := sentAt.Add(time.Duration(gofakeit.Number(1, 3600)) * time.Second)
			message.ReadAt = &readAt
		}

		if err := s.db.Create(&message).Error; err != nil {
			return err
		}
	}

	logger.Log.Info("Seeded messages", zap.Int("count", count))
	return nil
}

func (s *Seeder) seedPosts(users []models.User, count int) error {
	for i := 0; i < count; i++ {
		author := users[rand.Intn(len(users))]
		post := models.Post{
			ID:        uuid.New().String(),
			AuthorID:  author.ID,
			Body:      gofakeit.Paragraph(1, gofakeit.Number(1, 4), gofakeit.Number(5, 15), " "),
			CreatedAt: gofakeit.DateRange(time.Now().AddDate(0, 0, -30), time.Now()),
		}
		if err := s.db.Create(&post).Error; err != nil {
			return err
		}
	}

	logger.Log.Info("Seeded posts", zap.Int("count", count))
	return nil
}

func (s *Seeder) seedGroups(users []models.User, count int) error {
	for i := 0; i < count; i++ {
		owner := users[rand.Intn(len(users))]
		group := models.Group{
			ID:          uuid.New().String(),
			OwnerID:     owner.ID,
			Name:        gofakeit.NounCollectiveThing() + " " + gofakeit.AdjectiveDescriptive(),
			Description: gofakeit.Sentence(gofakeit.Number(5, 12)),
		}
		if err := s.db.Create(&group).Error; err != nil {
			return err
		}

		members := []models.GroupMember{{GroupID: group.ID, UserID: owner.ID, Role: "owner"}}
		for _, n := range rand.Perm(len(users))[:gofakeit.Number(2, 8)] {
			if users[n].ID == owner.ID {
				continue
			}
			members = append(members, models.GroupMember{
				GroupID: group.ID,
				UserID:  users[n].ID,
				Role:    "member",
			})
		}
		if err := s.db.Create(&members).Error; err != nil {
			return err
		}
	}

	logger.Log.Info("Seeded groups", zap.Int("count", count))
	return nil
}

func (s *Seeder) seedNotifications(users []models.User, count int) error {
	kinds := []string{
		models.NotificationKindMessage,
		models.NotificationKindFollow,
		models.NotificationKindMention,
		models.NotificationKindGroup,
		models.NotificationKindSystem,
	}

	for i := 0; i < count; i++ {
		user := users[rand.Intn(len(users))]
		actor := users[rand.Intn(len(users))]

		notification := models.Notification{
			ID:        uuid.New().String(),
			UserID:    user.ID,
			Kind:      kinds[rand.Intn(len(kinds))],
			Title:     gofakeit.Sentence(gofakeit.Number(3, 6)),
			Body:      gofakeit.Sentence(gofakeit.Number(5, 15)),
			ActorID:   actor.ID,
			CreatedAt: gofakeit.DateRange(time.Now().AddDate(0, 0, -7), time.Now()),
		}

		if rand.Float64() < 0.5 {
			readAt := notification.CreatedAt.Add(time.Duration(gofakeit.Number(60, 86400)) * time.Second)
			notification.ReadAt = &readAt
		}

		if err := s.db.Create(&notification).Error; err != nil {
			return err
		}
	}

	logger.Log.Info("Seeded notifications", zap.Int("count", count))
	return nil
}
