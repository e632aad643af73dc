package service

import (
	"crypto/rand"
	"errors"
	"fmt"
	"strings"

	"github.com/Shivanand-hulikatti/lecture-admission/internal/credential"
	"github.com/Shivanand-hulikatti/lecture-admission/internal/model"
)

// secretCodeAlphabet omits i, l, o and u to keep codes easy to read aloud.
const (
	secretCodeAlphabet = "0123456789abcdefghjkmnpqrstvwxyz"
	secretCodeLength   = 6
)

// IssuePassport signs an identity credential for subjectID acting as role.
func (s *LectureService) IssuePassport(subjectID, role string) (string, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return "", fmt.Errorf("%w: userId is required", ErrInvalidInput)
	}
	if role != model.RoleTeacher && role != model.RoleStudent {
		return "", fmt.Errorf("%w: role must be %q or %q", ErrInvalidInput, model.RoleTeacher, model.RoleStudent)
	}

	token, err := credential.EncodeIdentity(s.secret, credential.Identity{SubjectID: subjectID, Role: role})
	if err != nil {
		if errors.Is(err, credential.ErrInvalidField) {
			return "", fmt.Errorf("%w: userId must not contain ':'", ErrInvalidInput)
		}
		return "", err
	}
	return token, nil
}

// Authenticate verifies an identity credential.
func (s *LectureService) Authenticate(token string) (credential.Identity, error) {
	id, err := credential.DecodeIdentity(token, s.secret)
	if err != nil {
		return credential.Identity{}, ErrUnauthorized
	}
	return id, nil
}

// OpenRoom verifies a room credential.
func (s *LectureService) OpenRoom(token string) (credential.Room, error) {
	room, err := credential.DecodeRoom(token, s.secret)
	if err != nil {
		return credential.Room{}, ErrUnauthorized
	}
	return room, nil
}

func newSecretCode() (string, error) {
	buf := make([]byte, secretCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	// The alphabet has 32 letters, so the low five bits index it without bias.
	for i, b := range buf {
		buf[i] = secretCodeAlphabet[b&31]
	}
	return string(buf), nil
}
