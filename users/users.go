// Package users holds the accounts allowed to log in to the FTP server.
package users

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sort"
	"sync"

	"github.com/omikuji/firetrap/ftp"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrWrongPassword = errors.New("wrong password")
	ErrIPNotAllowed  = errors.New("ip address not allowed")
	ErrUserExists    = errors.New("user already exists")
)

// dummyHash is compared against when the user does not exist so that both
// failures take the same time.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("firetrap"), bcrypt.MinCost)

type User struct {
	Username   string
	Password   string // bcrypt hash
	CustomerID int64
	HomeDir    string
	// IPs restricts where the user may log in from. Empty means anywhere.
	IPs map[string]*netip.Prefix
}

var _ ftp.User = &User{}

// NewUser hashes password and returns a user without IP restrictions.
func NewUser(username, password string, customerID int64) (*User, error) {
	u := &User{
		Username:   username,
		CustomerID: customerID,
		IPs:        map[string]*netip.Prefix{},
	}
	if err := u.SetPassword(password); err != nil {
		return nil, err
	}
	return u, nil
}

// Name returns the login name.
func (u *User) Name() string {
	return u.Username
}

// Home returns the directory the user is jailed in, "" for the storage root.
func (u *User) Home() string {
	return u.HomeDir
}

// SetPassword stores the bcrypt hash of password.
func (u *User) SetPassword(password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("error hashing password: %w", err)
	}
	u.Password = string(hash)
	return nil
}

// CheckPassword compares password with the stored hash.
func (u *User) CheckPassword(password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)); err != nil {
		return ErrWrongPassword
	}
	return nil
}

// FindIP reports whether ip is inside one of the allowed prefixes.
func (u *User) FindIP(ip netip.Addr) bool {
	if len(u.IPs) == 0 {
		return true
	}
	ip = ip.Unmap()
	for _, prefix := range u.IPs {
		if prefix.Contains(ip) {
			return true
		}
	}
	return false
}

// AddIP allows logins from ip, a single address or a CIDR prefix.
func (u *User) AddIP(ip string) error {
	prefix, err := parsePrefix(ip)
	if err != nil {
		return err
	}
	if u.IPs == nil {
		u.IPs = map[string]*netip.Prefix{}
	}
	u.IPs[prefix.String()] = &prefix
	return nil
}

// RemoveIP removes a prefix added with AddIP.
func (u *User) RemoveIP(ip string) {
	prefix, err := parsePrefix(ip)
	if err != nil {
		return
	}
	delete(u.IPs, prefix.String())
}

// ListIPs returns the allowed prefixes in a stable order.
func (u *User) ListIPs() []string {
	list := make([]string, 0, len(u.IPs))
	for k := range u.IPs {
		list = append(list, k)
	}
	sort.Strings(list)
	return list
}

func parsePrefix(ip string) (netip.Prefix, error) {
	if prefix, err := netip.ParsePrefix(ip); err == nil {
		return prefix.Masked(), nil
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return netip.Prefix{}, fmt.Errorf("error parsing ip %q: %w", ip, err)
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

// authenticate checks the password and where the login comes from. A nil
// user still costs one bcrypt comparison.
func authenticate(u *User, password string, remote net.Addr) error {
	if u == nil {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return ErrUserNotFound
	}
	if err := u.CheckPassword(password); err != nil {
		return err
	}
	if remote == nil || len(u.IPs) == 0 {
		return nil
	}
	addrPort, err := netip.ParseAddrPort(remote.String())
	if err != nil {
		return fmt.Errorf("error parsing remote address %s: %w", remote, err)
	}
	if !u.FindIP(addrPort.Addr()) {
		return fmt.Errorf("%w: %s", ErrIPNotAllowed, addrPort.Addr())
	}
	return nil
}

// Users is a store of accounts.
type Users interface {
	ftp.Authenticator
	List() (map[string]*User, error)
	// Get finds a user by username
	Get(username string) (*User, error)
}

var _ Users = &LocalUsers{}

// LocalUsers keeps the accounts in memory.
type LocalUsers struct {
	users map[string]*User
	wg    sync.RWMutex
}

func NewLocalUsers() *LocalUsers {
	return &LocalUsers{
		users: make(map[string]*User),
	}
}

func (u *LocalUsers) List() (map[string]*User, error) {
	u.wg.RLock()
	defer u.wg.RUnlock()
	list := make(map[string]*User, len(u.users))
	for k, v := range u.users {
		list[k] = v
	}
	return list, nil
}

func (u *LocalUsers) Get(username string) (*User, error) {
	u.wg.RLock()
	defer u.wg.RUnlock()
	user, ok := u.users[username]
	if !ok {
		return nil, ErrUserNotFound
	}
	return user, nil
}

// Add creates a user, replacing any user with the same name.
func (u *LocalUsers) Add(user, pass string, customerID int64) (*User, error) {
	newUser, err := NewUser(user, pass, customerID)
	if err != nil {
		return nil, err
	}

	u.wg.Lock()
	defer u.wg.Unlock()
	u.users[newUser.Username] = newUser
	return newUser, nil
}

func (u *LocalUsers) Remove(user string) *User {
	u.wg.Lock()
	defer u.wg.Unlock()
	oldUser := u.users[user]
	delete(u.users, user)
	return oldUser
}

// Authenticate implements ftp.Authenticator.
func (u *LocalUsers) Authenticate(ctx context.Context, username, password string, remote net.Addr) (ftp.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u.wg.RLock()
	user := u.users[username]
	u.wg.RUnlock()

	if err := authenticate(user, password, remote); err != nil {
		return nil, err
	}
	return user, nil
}
