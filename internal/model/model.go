// Package model defines the core domain types for lecture admission.
package model

import "time"

// Roles carried by identity credentials.
const (
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

// LectureStatus is the lifecycle state of a lecture row.
type LectureStatus string

// LectureOpen marks a lecture that accepts attendees. Closing a lecture
// deletes its row.
const LectureOpen LectureStatus = "open"

// Lecture is a room opened by a teacher that students join by secret code.
type Lecture struct {
	ID         string        `json:"id"`
	OwnerID    string        `json:"ownerId"`
	SecretCode string        `json:"secretCode"`
	Capacity   int           `json:"capacity"`
	Status     LectureStatus `json:"status"`
	CreatedAt  time.Time     `json:"createdAt"`
}

// Attendance records one attendee admitted to a lecture.
type Attendance struct {
	ID         string    `json:"id"`
	LectureID  string    `json:"lectureId"`
	AttendeeID string    `json:"attendeeId"`
	CreatedAt  time.Time `json:"createdAt"`
}

// LectureInfo is the read view of a lecture.
type LectureInfo struct {
	Lecture
	Remaining int64 `json:"remaining"`
	Attendees int   `json:"attendees"`
}

// IssuePassportRequest is the payload for issuing an identity credential.
type IssuePassportRequest struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

// IssuePassportResponse carries a signed identity credential.
type IssuePassportResponse struct {
	Passport string `json:"passport"`
}

// OpenLectureRequest is the payload for opening a lecture.
type OpenLectureRequest struct {
	Capacity int `json:"capacity"`
}

// OpenLectureResponse is returned to the owner of a newly opened lecture.
type OpenLectureResponse struct {
	SecretCode string `json:"secretCode"`
	RoomID     string `json:"roomId"`
}

// AttendLectureRequest is the payload for attending a lecture.
type AttendLectureRequest struct {
	SecretCode string `json:"secretCode"`
}

// AttendLectureResponse identifies the attendance row of the caller.
type AttendLectureResponse struct {
	AttendanceID string `json:"attendanceId"`
}

// Response is the JSON envelope of every API response.
type Response struct {
	Message    string `json:"message"`
	Data       any    `json:"data,omitempty"`
	StatusCode int    `json:"statusCode"`
}
