/*
Package errs provides custom error types and application-level error code constants.

The codes identify business and system failures both inside the server and in the
error events and HTTP envelopes sent to clients.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request header Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates that the request body JSON format is incorrect.
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates that the request body contained extra content after valid JSON data.
	ErrExtraContentInBody = 1004

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1007

	// ErrUnsupportedEvent indicates that a socket frame named an event the server does not handle.
	ErrUnsupportedEvent = 1101
)

// 2xxx: Room and Message Errors
const (
	// ErrRoomNameInvalid indicates that a room was created with an empty or oversized name.
	ErrRoomNameInvalid = 2101

	// ErrRoomCodeExists indicates that a generated room id collided with an existing one.
	ErrRoomCodeExists = 2102

	// ErrRoomNotFound indicates that the referenced room id does not exist.
	ErrRoomNotFound = 2103

	// ErrNotInRoom indicates that the session tried to act on a room it is not occupying.
	ErrNotInRoom = 2104

	// ErrMessageContentTooLong indicates that the message text exceeded the maximum length limit.
	ErrMessageContentTooLong = 2201

	// ErrMessageEmpty indicates a message with neither text nor a file reference.
	ErrMessageEmpty = 2202

	// ErrAttachmentKeyInvalid indicates that a file reference does not resolve to a stored object.
	ErrAttachmentKeyInvalid = 2203
)

// 3xxx: Session and Security Errors
const (
	// ErrPowChallengeRequired indicates the client must complete a Proof-of-Work challenge first.
	ErrPowChallengeRequired = 3001

	// ErrPowChallengeInvalid indicates that the PoW proof provided by the client is invalid.
	ErrPowChallengeInvalid = 3002

	// ErrUnauthorized indicates missing or rejected credentials.
	ErrUnauthorized = 3101

	// ErrUnknownConnection indicates an operation on a connection the presence registry does not hold.
	ErrUnknownConnection = 3201

	// ErrDuplicateConnection indicates a second registration of the same connection id.
	ErrDuplicateConnection = 3202

	// ErrConnectionNotFound indicates the router has no live transport for the target connection.
	ErrConnectionNotFound = 3203
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000

	// ErrStorageFailed indicates the storage collaborator rejected a read or write.
	ErrStorageFailed = 5101

	// ErrFileStorageFailed indicates the object store could not sign or locate a file.
	ErrFileStorageFailed = 5102
)
