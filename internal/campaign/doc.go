// Package campaign models a shared tabletop session: the players in a room,
// their movement budgets and injuries, the round counter, and the game master
// role.
//
// Rooms live in process memory only. Nothing here is persisted; a restart
// forgets every room, player, and round.
//
// Validation is forgiving. Operations that name an unknown
// player create a default entry instead of failing, and out-of-range values
// (negative budgets, bleed levels outside 0..100) are clamped rather than
// rejected. Callers learn about auto-created players through Outcome.Healed.
package campaign
