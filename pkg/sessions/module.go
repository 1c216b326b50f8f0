package sessions

import (
	"fmt"
	"time"

	"github.com/repeale/fp-go"
	"github.com/rs/zerolog/log"
	"github.com/sasha-s/go-deadlock"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Record tracks one player's seat in the active hosting session. Records
// are marked disconnected rather than deleted so a reconnecting peer can
// resume its identity and seat.
type Record struct {
	PlayerID  string
	ClientID  uint64
	Name      string
	Seat      int
	Connected bool
}

// PlayerProfile is the persistent identity of an install, surviving
// process restarts.
type PlayerProfile struct {
	PlayerID string `gorm:"primaryKey"`
	Name     string
	LastSeen time.Time
}

// InstallIdentity pins this install's stable player id. At most one row.
type InstallIdentity struct {
	ID       uint `gorm:"primaryKey"`
	PlayerID string
}

type Store struct {
	mutex    deadlock.Mutex
	players  map[string]*Record
	byClient map[uint64]string
	db       *gorm.DB
}

// NewStore opens the session store. A non-empty dbPath enables sqlite
// persistence of player profiles; runtime session records always live in
// memory.
func NewStore(dbPath string) (*Store, error) {
	store := &Store{
		players:  make(map[string]*Record),
		byClient: make(map[uint64]string),
	}

	if dbPath != "" {
		db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
			Logger: logger.Default.LogMode(logger.Silent),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open session db: %w", err)
		}

		if err := db.AutoMigrate(&PlayerProfile{}, &InstallIdentity{}); err != nil {
			return nil, fmt.Errorf("failed to migrate session db: %w", err)
		}

		store.db = db
	}

	return store, nil
}

func (s *Store) nextSeat() int {
	taken := make(map[int]struct{}, len(s.players))
	for _, record := range s.players {
		taken[record.Seat] = struct{}{}
	}
	seat := 0
	for {
		if _, ok := taken[seat]; !ok {
			return seat
		}
		seat++
	}
}

// Register creates or refreshes the session record binding a transport
// client id to a player id. A returning player keeps their seat.
func (s *Store) Register(clientID uint64, playerID string, name string) Record {
	s.mutex.Lock()

	record, ok := s.players[playerID]
	if !ok {
		record = &Record{
			PlayerID: playerID,
			Seat:     s.nextSeat(),
		}
		s.players[playerID] = record
	} else {
		delete(s.byClient, record.ClientID)
	}

	record.ClientID = clientID
	record.Name = name
	record.Connected = true
	s.byClient[clientID] = playerID

	result := *record
	s.mutex.Unlock()

	s.saveProfile(playerID, name)

	return result
}

func (s *Store) saveProfile(playerID string, name string) {
	if s.db == nil {
		return
	}

	profile := PlayerProfile{
		PlayerID: playerID,
		Name:     name,
		LastSeen: time.Now(),
	}
	if err := s.db.Save(&profile).Error; err != nil {
		log.Warn().Err(err).Str("player", playerID).Msg("failed to save player profile")
	}
}

// InstallID returns the stable player id of this install, persisting fresh
// the first time it runs. Without a database the id is ephemeral.
func (s *Store) InstallID(fresh string) (string, error) {
	if s.db == nil {
		return fresh, nil
	}

	var identity InstallIdentity
	err := s.db.First(&identity).Error
	if err == nil {
		return identity.PlayerID, nil
	}
	if err != gorm.ErrRecordNotFound {
		return fresh, err
	}

	identity = InstallIdentity{PlayerID: fresh}
	if err := s.db.Create(&identity).Error; err != nil {
		return fresh, err
	}
	return fresh, nil
}

// GetOrCreateProfile loads the persistent profile for a player id, creating
// it when seen for the first time. Without a database the profile is
// ephemeral.
func (s *Store) GetOrCreateProfile(playerID string, name string) (PlayerProfile, error) {
	profile := PlayerProfile{
		PlayerID: playerID,
		Name:     name,
		LastSeen: time.Now(),
	}

	if s.db == nil {
		return profile, nil
	}

	var existing PlayerProfile
	err := s.db.First(&existing, "player_id = ?", playerID).Error
	if err == nil {
		if name != "" && name != existing.Name {
			existing.Name = name
		}
		existing.LastSeen = time.Now()
		if err := s.db.Save(&existing).Error; err != nil {
			return existing, err
		}
		return existing, nil
	}
	if err != gorm.ErrRecordNotFound {
		return profile, err
	}

	if err := s.db.Create(&profile).Error; err != nil {
		return profile, err
	}
	return profile, nil
}

func (s *Store) IsConnected(playerID string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	record, ok := s.players[playerID]
	return ok && record.Connected
}

func (s *Store) ConnectedCount() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	count := 0
	for _, record := range s.players {
		if record.Connected {
			count++
		}
	}
	return count
}

func (s *Store) FindByClient(clientID uint64) (Record, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	playerID, ok := s.byClient[clientID]
	if !ok {
		return Record{}, false
	}
	record, ok := s.players[playerID]
	if !ok {
		return Record{}, false
	}
	return *record, true
}

// MarkDisconnected flags a record as disconnected without deleting it, so
// the same player id can reconnect and resume.
func (s *Store) MarkDisconnected(clientID uint64) (Record, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	playerID, ok := s.byClient[clientID]
	if !ok {
		return Record{}, false
	}
	delete(s.byClient, clientID)

	record, ok := s.players[playerID]
	if !ok {
		return Record{}, false
	}
	record.Connected = false
	return *record, true
}

func (s *Store) ConnectedClients() []Record {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	records := make([]Record, 0, len(s.players))
	for _, record := range s.players {
		records = append(records, *record)
	}

	return fp.Filter(func(r Record) bool { return r.Connected })(records)
}

// Clear releases every session record. Called when the hosting session
// ends; persistent profiles are unaffected.
func (s *Store) Clear() {
	s.mutex.Lock()
	s.players = make(map[string]*Record)
	s.byClient = make(map[uint64]string)
	s.mutex.Unlock()
}
