// Package types is the websocket wire format.
//
// Client -> Server
//
//	join:    { name }
//	roll:    {}
//	start:   { enable_traps, enable_fate }   admin only
//	restart: {}                              admin only
//	reset:   {}                              admin only
//
// Server -> Client (every message carries type and, except welcome, version)
//
//	welcome:          { client_id }
//	error:            { code, error }
//	joined:           { player }             sender only
//	roster_updated:   { players }
//	initiative_order: { initiative: [{ player, roll }] }
//	game_started:     {}
//	turn_changed:     { turn_index, player_id }
//	move_resolved:    { player_id, roll, landing_pos, new_pos, trigger, fate_delta?, revealed_trap? }
//	player_finished:  { player, rank }
//	game_over:        { rankings }
//	full_state:       { status, players, config, turn_index, rankings }   on connect
//	positions_reset:  {}
//	force_reload:     {}
//
// Trap tiles are never serialized; a trap only shows up as revealed_trap
// once someone lands on it.
package types
