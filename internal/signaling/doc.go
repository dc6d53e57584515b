// Package signaling relays session-negotiation messages between participants
// that share a room.
//
// Clients connect over WebSocket (GET /signal) and exchange JSON frames:
//
//	-> {"type":"join","roomId":"lobby","participantId":"alice"}
//	<- {"type":"users-in-room","participantIds":["bob"]}
//	-> {"type":"offer","targetParticipantId":"bob","offer":{...}}
//
// The relay never looks inside offer, answer or candidate payloads; it only
// stamps them with the sender's participant ID and forwards them to the
// target in the sender's room.
package signaling
