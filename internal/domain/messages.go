package domain

// client -> server
const (
	MsgInvite         = "invite"
	MsgInviteCancel   = "invite_cancel"
	MsgInviteResponse = "invite_response"
	MsgJoinChat       = "join_chat"
	MsgSendMessage    = "send_msg"
	MsgPing           = "ping"

	MsgPlaceShip   = "place_ship"
	MsgRemoveShip  = "remove_ship"
	MsgSetReady    = "set_ready"
	MsgMakeMove    = "make_move"
	MsgLeaveGame   = "leave_game"
	MsgRestartGame = "restart_game"
)

// server -> client
const (
	MsgUserList       = "user_list"
	MsgInviteState    = "invite_state"
	MsgInviteAccepted = "invite_accepted"
	MsgInviteDeclined = "invite_declined"
	MsgChatHistory    = "chat_history"
	MsgChatMessage    = "chat_message"
	MsgChatNotify     = "chat_notify"
	MsgGameState      = "game_state"
	MsgNewGame        = "new_game"
	MsgOpponentLeft   = "opponent_left"
	MsgPong           = "pong"
	MsgError          = "error"
)

type ClientMessage struct {
	Type        string      `json:"type"`
	To          string      `json:"to,omitempty"`
	From        string      `json:"from,omitempty"`
	Status      string      `json:"status,omitempty"`
	ChatWith    string      `json:"chatWith,omitempty"`
	Body        string      `json:"body,omitempty"`
	X           *int        `json:"x,omitempty"`
	Y           *int        `json:"y,omitempty"`
	Length      int         `json:"length,omitempty"`
	Orientation Orientation `json:"orientation,omitempty"`
}

// HasCoords reports whether both x and y were present on the wire.
func (m ClientMessage) HasCoords() bool {
	return m.X != nil && m.Y != nil
}

type Roster struct {
	Users []string `json:"users"`
	Self  string   `json:"self"`
}

type ChatHistory struct {
	History []ChatMessage `json:"history"`
}

// ServerMessage is every frame the server sends. Embedded payloads are
// pointers so they only show up on the message types that carry them.
type ServerMessage struct {
	Type    string       `json:"type"`
	Message string       `json:"message,omitempty"`
	From    string       `json:"from,omitempty"`
	GameID  string       `json:"gameId,omitempty"`
	State   *PlayerView  `json:"state,omitempty"`
	Entry   *ChatMessage `json:"entry,omitempty"`
	*Roster
	*InviteState
	*ChatHistory
}

func UserListMessage(users []string, self string) ServerMessage {
	if users == nil {
		users = []string{}
	}
	return ServerMessage{Type: MsgUserList, Roster: &Roster{Users: users, Self: self}}
}

func InviteStateMessage(state InviteState) ServerMessage {
	if state.Incoming == nil {
		state.Incoming = []string{}
	}
	if state.Outgoing == nil {
		state.Outgoing = []string{}
	}
	if state.Declined == nil {
		state.Declined = []string{}
	}
	return ServerMessage{Type: MsgInviteState, InviteState: &state}
}

func InviteAcceptedMessage(from, gameID string) ServerMessage {
	return ServerMessage{Type: MsgInviteAccepted, From: from, GameID: gameID}
}

func InviteDeclinedMessage(from string) ServerMessage {
	return ServerMessage{Type: MsgInviteDeclined, From: from}
}

func ChatHistoryMessage(history []ChatMessage) ServerMessage {
	if history == nil {
		history = []ChatMessage{}
	}
	return ServerMessage{Type: MsgChatHistory, ChatHistory: &ChatHistory{History: history}}
}

func ChatEntryMessage(entry ChatMessage) ServerMessage {
	return ServerMessage{Type: MsgChatMessage, Entry: &entry}
}

func ChatNotifyMessage(from string) ServerMessage {
	return ServerMessage{Type: MsgChatNotify, From: from}
}

func GameStateMessage(view PlayerView) ServerMessage {
	return ServerMessage{Type: MsgGameState, State: &view}
}

func NewGameMessage(gameID string) ServerMessage {
	return ServerMessage{Type: MsgNewGame, GameID: gameID}
}

func OpponentLeftMessage(from string) ServerMessage {
	return ServerMessage{Type: MsgOpponentLeft, From: from}
}

func PongMessage() ServerMessage {
	return ServerMessage{Type: MsgPong}
}

func ErrorMessage(err error) ServerMessage {
	return ServerMessage{Type: MsgError, Message: err.Error()}
}
