package handlers

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	return "invalid request"
}

const (
	maxEmailLen        = 254
	minUsernameLen     = 3
	maxUsernameLen     = 32
	minPasswordLen     = 8
	maxPasswordLen     = 128
	maxNameLen         = 100
	maxRefreshTokenLen = 256
)

var (
	emailPattern    = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
)

func ValidateRegister(email, username, password, firstName, lastName string) ValidationErrors {
	var errs ValidationErrors

	email = strings.TrimSpace(email)
	switch {
	case email == "":
		errs = append(errs, FieldError{Field: "email", Message: "email is required"})
	case len(email) > maxEmailLen || !emailPattern.MatchString(email):
		errs = append(errs, FieldError{Field: "email", Message: "email is invalid"})
	}

	username = strings.TrimSpace(username)
	switch {
	case username == "":
		errs = append(errs, FieldError{Field: "username", Message: "username is required"})
	case len(username) < minUsernameLen || len(username) > maxUsernameLen:
		errs = append(errs, FieldError{Field: "username", Message: "username must be 3 to 32 characters"})
	case !usernamePattern.MatchString(username):
		errs = append(errs, FieldError{Field: "username", Message: "username may contain letters, digits, '.', '_' and '-'"})
	}

	errs = append(errs, validatePassword(password)...)

	if utf8.RuneCountInString(strings.TrimSpace(firstName)) > maxNameLen {
		errs = append(errs, FieldError{Field: "first_name", Message: "first_name is too long"})
	}
	if utf8.RuneCountInString(strings.TrimSpace(lastName)) > maxNameLen {
		errs = append(errs, FieldError{Field: "last_name", Message: "last_name is too long"})
	}
	return errs
}

func validatePassword(password string) ValidationErrors {
	n := utf8.RuneCountInString(password)
	switch {
	case password == "":
		return ValidationErrors{{Field: "password", Message: "password is required"}}
	case n < minPasswordLen:
		return ValidationErrors{{Field: "password", Message: "password must be at least 8 characters"}}
	case n > maxPasswordLen:
		return ValidationErrors{{Field: "password", Message: "password must be at most 128 characters"}}
	}
	return nil
}

func ValidateLogin(identifier, password string) ValidationErrors {
	var errs ValidationErrors
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		errs = append(errs, FieldError{Field: "identifier", Message: "identifier is required"})
	} else if len(identifier) > maxEmailLen {
		errs = append(errs, FieldError{Field: "identifier", Message: "identifier is too long"})
	}
	if password == "" {
		errs = append(errs, FieldError{Field: "password", Message: "password is required"})
	} else if utf8.RuneCountInString(password) > maxPasswordLen {
		errs = append(errs, FieldError{Field: "password", Message: "password is too long"})
	}
	return errs
}

func ValidateRefreshToken(token string) ValidationErrors {
	token = strings.TrimSpace(token)
	if token == "" {
		return ValidationErrors{{Field: "refresh_token", Message: "refresh_token is required"}}
	}
	if len(token) > maxRefreshTokenLen {
		return ValidationErrors{{Field: "refresh_token", Message: "refresh_token is too long"}}
	}
	return nil
}
