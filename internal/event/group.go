package event

import "github.com/dshills/sensorbus/internal/flow"

// groupPublisher is a sub-topic of a group topic. It publishes on the
// group's publisher and only delivers events whose source ID is its topic.
type groupPublisher struct {
	groupID string
	topicID string
	parent  *BufferedPublisher
	filter  Predicate
}

func newGroupPublisher(groupID, topicID string, parent *BufferedPublisher) *groupPublisher {
	return &groupPublisher{
		groupID: groupID,
		topicID: topicID,
		parent:  parent,
		filter:  FilterBySource(topicID),
	}
}

// ID returns the sub-topic ID.
func (g *groupPublisher) ID() string { return g.topicID }

// GroupID returns the ID of the group topic.
func (g *groupPublisher) GroupID() string { return g.groupID }

func (g *groupPublisher) Publish(e Event) int {
	return g.parent.Publish(e)
}

func (g *groupPublisher) PublishWithDrop(e Event, onDrop DropFunc) int {
	return g.parent.PublishWithDrop(e, onDrop)
}

func (g *groupPublisher) Subscribe(s flow.Subscriber[Event]) {
	g.parent.SubscribeFiltered(s, g.filter)
}

func (g *groupPublisher) SubscribeFiltered(s flow.Subscriber[Event], pred Predicate) {
	g.parent.SubscribeFiltered(s, FilterAnd(g.filter, pred))
}

// NumSubscribers returns the subscribers of the whole group.
func (g *groupPublisher) NumSubscribers() int {
	return g.parent.NumSubscribers()
}
