// Package feed streams activity-trail entries to connected websocket
// clients. Membership and fan-out are in-memory; the trail itself is
// persisted by the board package.
package feed
