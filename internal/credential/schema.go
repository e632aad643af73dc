package credential

import (
	"strconv"
	"strings"
)

// Schema tags a credential layout. The field count is the discriminator on
// the wire, so a new layout must change it or bump Version together with a
// new secret.
type Schema struct {
	Name    string
	Version int
	Fields  []string
}

var (
	// IdentitySchema describes the X-USER-ID credential.
	IdentitySchema = Schema{Name: "identity", Version: 1, Fields: []string{"subjectId", "role"}}
	// RoomSchema describes the X-ROOM-ID credential.
	RoomSchema = Schema{Name: "room", Version: 1, Fields: []string{"lectureId", "capacity", "secretCode"}}
)

// Encode signs values laid out according to s.
func (s Schema) Encode(secret []byte, values ...string) (string, error) {
	if len(values) != len(s.Fields) {
		return "", ErrInvalidField
	}
	return Encode(secret, values...)
}

// Decode verifies token and returns its values laid out according to s.
// Empty values are rejected.
func (s Schema) Decode(token string, secret []byte) ([]string, error) {
	values, err := Decode(token, secret, len(s.Fields))
	if err != nil {
		return nil, err
	}
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			return nil, ErrUnauthorized
		}
	}
	return values, nil
}

// Identity is the claim carried by an identity credential.
type Identity struct {
	SubjectID string
	Role      string
}

// Room describes a lecture room and is handed to its owner on creation.
type Room struct {
	LectureID  string
	Capacity   int
	SecretCode string
}

// EncodeIdentity signs an identity claim.
func EncodeIdentity(secret []byte, id Identity) (string, error) {
	return IdentitySchema.Encode(secret, id.SubjectID, id.Role)
}

// DecodeIdentity verifies an identity credential.
func DecodeIdentity(token string, secret []byte) (Identity, error) {
	v, err := IdentitySchema.Decode(token, secret)
	if err != nil {
		return Identity{}, err
	}
	return Identity{SubjectID: v[0], Role: v[1]}, nil
}

// EncodeRoom signs a room descriptor.
func EncodeRoom(secret []byte, room Room) (string, error) {
	return RoomSchema.Encode(secret, room.LectureID, strconv.Itoa(room.Capacity), room.SecretCode)
}

// DecodeRoom verifies a room credential.
func DecodeRoom(token string, secret []byte) (Room, error) {
	v, err := RoomSchema.Decode(token, secret)
	if err != nil {
		return Room{}, err
	}
	capacity, err := strconv.Atoi(v[1])
	if err != nil || capacity <= 0 {
		return Room{}, ErrUnauthorized
	}
	return Room{LectureID: v[0], Capacity: capacity, SecretCode: v[2]}, nil
}
