package event

import "errors"

// Sentinel errors for the event bus.
var (
	// ErrInvalidTopic is returned when a topic or group ID is empty.
	ErrInvalidTopic = errors.New("invalid topic")

	// ErrTopicConflict is returned when a topic ID is already used by a
	// publisher of another kind or by another group.
	ErrTopicConflict = errors.New("topic already in use")

	// ErrNoTopics is returned when a subscription names no topic.
	ErrNoTopics = errors.New("subscription has no topics")

	// ErrNilSubscriber is returned when a nil subscriber or callback is provided.
	ErrNilSubscriber = errors.New("subscriber cannot be nil")

	// ErrAlreadySubscribed is signalled to a subscriber that subscribes twice
	// to the same publisher.
	ErrAlreadySubscribed = errors.New("already subscribed")

	// ErrNilListener is returned when a nil listener is registered.
	ErrNilListener = errors.New("listener cannot be nil")

	// ErrListenerNotComparable is returned for listeners that cannot be
	// de-duplicated, such as a bare ListenerFunc.
	ErrListenerNotComparable = errors.New("listener is not comparable")
)

// TopicError wraps an error with the topic it concerns.
type TopicError struct {
	// Topic is the topic or group ID at fault.
	Topic string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *TopicError) Error() string {
	return "topic " + quote(e.Topic) + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *TopicError) Unwrap() error {
	return e.Err
}

func quote(s string) string {
	return "\"" + s + "\""
}
