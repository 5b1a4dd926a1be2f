// Package server holds the session registry of a Dragon's Keep relay: the
// process-wide table of campaign rooms and the per-room subscriber sets that
// receive state after every mutation.
//
// A Hub is constructed once per process and injected into every connection
// handler. Rooms live only in memory; nothing survives a restart.
//
// Locks are always taken in the order Hub.mu, roomEntry.mu, Room.mu,
// Subscriber.mu. Every state frame for a room is queued while holding that
// room's entry lock, so each subscriber observes strictly increasing seq
// values for the room.
package server
