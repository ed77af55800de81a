package db

import (
	"fmt"
	"log"
	"math/rand"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var seedStories = []string{
	"I love hiking and photography, especially early mornings in the mountains.",
	"Moved to a new city last year and slowly found a great running community.",
	"Board games, strong coffee and long conversations about science fiction.",
	"I paint watercolours on weekends and volunteer at the animal shelter.",
	"Amateur astronomer. I drag my telescope to dark-sky parks whenever I can.",
	"Home cook experimenting with fermentation, sourdough and hot sauces.",
	"Cycling commuter, weekend bike-packer, always planning the next route.",
	"I play jazz piano in a small trio and love discovering vinyl records.",
	"Rock climber who recently got into trail photography and camping.",
	"Learning Japanese, obsessed with ramen and travelling on slow trains.",
}

// SeedTestData resets the database and populates it with demo users,
// friendships and stories.
//
// Behavior:
//  1. Clears matches, friendships, stories and users.
//  2. Creates 20 users; user20 is moderation-blocked.
//  3. Creates ~30 random friendships (mostly accepted, some pending/blocked).
//  4. Gives the first 15 users a story marked stale so the sweeper embeds them.
//
// Compatible with both MySQL and SQLite.
func SeedTestData(db *gorm.DB) error {
	r := rand.New(rand.NewSource(time.Now().UnixNano()))

	for _, table := range []string{"matches", "friendships", "stories", "users"} {
		if err := db.Exec("DELETE FROM " + table).Error; err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	switch db.Dialector.Name() {
	case "mysql":
		db.Exec("ALTER TABLE stories AUTO_INCREMENT = 1")
		db.Exec("ALTER TABLE users AUTO_INCREMENT = 1")
	case "sqlite":
		db.Exec("DELETE FROM sqlite_sequence WHERE name IN ('stories', 'users')")
	}

	log.Println("Cleared existing data")

	// --- Users ---
	users := make([]User, 0, 20)
	for i := 1; i <= 20; i++ {
		u := User{
			Handle:   fmt.Sprintf("user%d", i),
			Name:     fmt.Sprintf("User %d", i),
			Verified: i%3 == 0,
			Active:   true,
		}
		if err := db.Create(&u).Error; err != nil {
			return fmt.Errorf("failed to seed user: %w", err)
		}
		users = append(users, u)
	}
	if err := db.Model(&User{}).Where("id = ?", users[19].ID).Update("blocked", true).Error; err != nil {
		return fmt.Errorf("failed to flag user: %w", err)
	}
	log.Println("Seeded 20 users.")

	// --- Friendships ---
	statuses := []FriendshipStatus{FriendshipAccepted, FriendshipAccepted, FriendshipPending, FriendshipBlocked}
	for n := 0; n < 30; n++ {
		a := users[r.Intn(len(users))].ID
		b := users[r.Intn(len(users))].ID
		if a == b {
			continue
		}
		f := Friendship{UserA: a, UserB: b, RequestedBy: a, Status: statuses[r.Intn(len(statuses))]}
		f.EnsureCanonicalOrder()
		if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&f).Error; err != nil {
			return fmt.Errorf("failed to seed friendship: %w", err)
		}
	}
	log.Println("Seeded friendships.")

	// --- Stories ---
	for i, u := range users[:15] {
		text := seedStories[i%len(seedStories)]
		s := Story{
			UserID:          u.ID,
			Text:            text,
			Language:        "en",
			VectorID:        VectorIDFor(u.ID),
			TextHash:        StoryTextHash(text),
			EmbeddingStatus: EmbeddingStale,
			LastError:       "seeded",
		}
		if err := db.Create(&s).Error; err != nil {
			return fmt.Errorf("failed to seed story: %w", err)
		}
	}
	log.Println("Seeded 15 stories.")

	return nil
}
