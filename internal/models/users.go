package models

import (
	"database/sql"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type UserModelInterface interface {
	Insert(name, email, password string, admin bool) error
	Authenticate(email, password string) (int, error)
	Exists(id int) (bool, error)
	SeedAdmin(name, email, password string) (bool, error)
}

type UserModel struct {
	DB *sql.DB
}

func (m *UserModel) Insert(name, email, password string, admin bool) error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), 12)
	if err != nil {
		return err
	}

	writeMu.Lock()
	defer writeMu.Unlock()

	stmt := `INSERT INTO users (name, email, hashed_password, admin, created) VALUES (?, ?, ?, ?, ?)`
	_, err = m.DB.Exec(stmt, name, email, string(hashedPassword), admin, time.Now().UTC())
	if err != nil {
		if uniqueViolation(err, "users.email") {
			return ErrDuplicateEmail
		}
		return err
	}
	return nil
}

func (m *UserModel) Authenticate(email, password string) (int, error) {
	var id int
	var hashedPassword []byte

	err := m.DB.QueryRow(`SELECT id, hashed_password FROM users WHERE email = ?`, email).Scan(&id, &hashedPassword)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrInvalidCredentials
		}
		return 0, err
	}

	err = bcrypt.CompareHashAndPassword(hashedPassword, []byte(password))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return 0, ErrInvalidCredentials
		}
		return 0, err
	}
	return id, nil
}

func (m *UserModel) Exists(id int) (bool, error) {
	var exists bool
	err := m.DB.QueryRow(`SELECT EXISTS(SELECT true FROM users WHERE id = ?)`, id).Scan(&exists)
	return exists, err
}

// SeedAdmin creates the admin account unless one exists. It reports whether a
// user was created.
func (m *UserModel) SeedAdmin(name, email, password string) (bool, error) {
	if password == "" {
		return false, nil
	}
	var id int
	err := m.DB.QueryRow(`SELECT id FROM users WHERE admin = 1 LIMIT 1`).Scan(&id)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, err
	}
	if err := m.Insert(name, email, password, true); err != nil {
		return false, err
	}
	return true, nil
}
