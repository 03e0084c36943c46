package users

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/glebarez/sqlite"
	"github.com/omikuji/firetrap/ftp"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Account is the stored form of a User.
type Account struct {
	gorm.Model
	Username   string `gorm:"uniqueIndex;not null"`
	Password   string `gorm:"not null"` // bcrypt hash
	CustomerID int64
	HomeDir    string
	AllowedIPs string // comma separated prefixes
}

func (a *Account) user() (*User, error) {
	u := &User{
		Username:   a.Username,
		Password:   a.Password,
		CustomerID: a.CustomerID,
		HomeDir:    a.HomeDir,
	}
	for _, ip := range strings.Split(a.AllowedIPs, ",") {
		if ip = strings.TrimSpace(ip); ip == "" {
			continue
		}
		if err := u.AddIP(ip); err != nil {
			return nil, fmt.Errorf("user %s: %w", a.Username, err)
		}
	}
	return u, nil
}

var _ Users = &DBUsers{}

// DBUsers keeps the accounts in a SQLite database.
type DBUsers struct {
	db *gorm.DB
}

// OpenDBUsers opens the database at path, ":memory:" for a throwaway one,
// and creates the accounts table if needed.
func OpenDBUsers(path string) (*DBUsers, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("error opening users database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("error opening users database: %w", err)
	}
	// every connection to ":memory:" is a separate database
	sqlDB.SetMaxOpenConns(1)

	if err = db.AutoMigrate(&Account{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("error migrating users database: %w", err)
	}
	return &DBUsers{db: db}, nil
}

// Close closes the database.
func (d *DBUsers) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Add stores a new user. ips restricts where the user may log in from.
func (d *DBUsers) Add(ctx context.Context, username, password string, customerID int64, homeDir string, ips ...string) (*User, error) {
	u, err := NewUser(username, password, customerID)
	if err != nil {
		return nil, err
	}
	u.HomeDir = homeDir
	for _, ip := range ips {
		if err := u.AddIP(ip); err != nil {
			return nil, err
		}
	}

	var count int64
	if err := d.db.WithContext(ctx).Model(&Account{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("error looking up user: %w", err)
	}
	if count > 0 {
		return nil, fmt.Errorf("%w: %s", ErrUserExists, username)
	}

	account := Account{
		Username:   u.Username,
		Password:   u.Password,
		CustomerID: u.CustomerID,
		HomeDir:    u.HomeDir,
		AllowedIPs: strings.Join(u.ListIPs(), ","),
	}
	if err := d.db.WithContext(ctx).Create(&account).Error; err != nil {
		return nil, fmt.Errorf("failed to create user in the database: %w", err)
	}
	return u, nil
}

// Remove deletes a user.
func (d *DBUsers) Remove(ctx context.Context, username string) error {
	result := d.db.WithContext(ctx).Unscoped().Where("username = ?", username).Delete(&Account{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete user: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (d *DBUsers) get(ctx context.Context, username string) (*User, error) {
	var account Account
	err := d.db.WithContext(ctx).Where("username = ?", username).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error looking up user: %w", err)
	}
	return account.user()
}

func (d *DBUsers) Get(username string) (*User, error) {
	return d.get(context.Background(), username)
}

func (d *DBUsers) List() (map[string]*User, error) {
	var accounts []Account
	if err := d.db.Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("error listing users: %w", err)
	}
	list := make(map[string]*User, len(accounts))
	for i := range accounts {
		u, err := accounts[i].user()
		if err != nil {
			return nil, err
		}
		list[u.Username] = u
	}
	return list, nil
}

// Authenticate implements ftp.Authenticator.
func (d *DBUsers) Authenticate(ctx context.Context, username, password string, remote net.Addr) (ftp.User, error) {
	u, err := d.get(ctx, username)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}
	if err := authenticate(u, password, remote); err != nil {
		return nil, err
	}
	return u, nil
}
