package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/c-bata/go-prompt"

	"textly-chat/internal/apiclient"
	"textly-chat/internal/messages"
	"textly-chat/internal/models"
	"textly-chat/internal/rooms"
	"textly-chat/internal/session"
)

var commandHelp = []prompt.Suggest{
	{Text: "rooms", Description: "List your rooms"},
	{Text: "create", Description: "create [name] - create a room and print its share code"},
	{Text: "join", Description: "join <code> - join a room by share code"},
	{Text: "open", Description: "open <room> - open a room and show its messages"},
	{Text: "delete", Description: "delete <room> - delete a room you are in"},
	{Text: "send", Description: "send <text> - send a message to the open room"},
	{Text: "improve", Description: "improve <text> - rewrite text with the assistant"},
	{Text: "translate", Description: "translate <text> - translate text with the assistant"},
	{Text: "search", Description: "search <prefix> - find users by username"},
	{Text: "add", Description: "add <user> - send a friend request"},
	{Text: "requests", Description: "List pending friend requests"},
	{Text: "accept", Description: "accept <request> - accept a friend request"},
	{Text: "cancel", Description: "cancel <request> - cancel a request you sent"},
	{Text: "settings", Description: "Show assistant settings"},
	{Text: "set", Description: "set <assistant|mode|lang> <value>"},
	{Text: "help", Description: "Show this help message"},
	{Text: "exit", Description: "Exit textly"},
}

// app executes terminal commands against a session. Rooms, requests and
// search results are addressed by the 1-based index of the last listing.
type app struct {
	ctx context.Context
	s   *session.Session
	out io.Writer

	lastSearch []models.ProfileMatch
}

func newApp(ctx context.Context, s *session.Session, out io.Writer) *app {
	return &app{ctx: ctx, s: s, out: out}
}

func (a *app) complete(d prompt.Document) []prompt.Suggest {
	if strings.Contains(d.TextBeforeCursor(), " ") {
		return []prompt.Suggest{}
	}
	return prompt.FilterHasPrefix(commandHelp, d.GetWordBeforeCursor(), true)
}

func (a *app) livePrefix() (string, bool) {
	room, ok := a.s.Rooms.Active()
	if !ok {
		return "", false
	}
	return a.roomLabel(room) + "> ", true
}

func (a *app) execute(input string) {
	input = strings.TrimSpace(input)
	if input == "" {
		return
	}
	cmd, rest, _ := strings.Cut(input, " ")
	rest = strings.TrimSpace(rest)

	var err error
	switch strings.ToLower(cmd) {
	case "rooms":
		a.listRooms()
	case "create":
		err = a.create(rest)
	case "join":
		err = a.join(rest)
	case "open":
		err = a.open(rest)
	case "delete":
		err = a.deleteRoom(rest)
	case "send":
		err = a.send(rest)
	case "improve":
		err = a.transform(a.s.Improve, rest)
	case "translate":
		err = a.transform(a.s.Translate, rest)
	case "search":
		err = a.search(rest)
	case "add":
		err = a.add(rest)
	case "requests":
		a.listRequests()
	case "accept":
		err = a.accept(rest)
	case "cancel":
		err = a.cancel(rest)
	case "settings":
		a.showSettings()
	case "set":
		err = a.set(rest)
	case "help":
		a.help()
	case "exit":
		fmt.Fprintln(a.out, "bye")
	default:
		fmt.Fprintln(a.out, "Unknown command. Type 'help' for a list of commands.")
	}
	if err != nil {
		fmt.Fprintln(a.out, "error:", describe(err))
	}
	a.flushNotices()
}

func (a *app) listRooms() {
	list := a.s.Rooms.Rooms()
	if len(list) == 0 {
		fmt.Fprintln(a.out, "No rooms yet. Use 'create' or 'join <code>'.")
		return
	}
	active := a.s.Rooms.ActiveID()
	for i, room := range list {
		marker := " "
		if room.ID == active {
			marker = "*"
		}
		line := fmt.Sprintf("%s %2d. %-24s code %s", marker, i+1, a.roomLabel(room), room.ShareCode)
		if n := a.s.Messages.Unread(room.ID); n > 0 {
			line += fmt.Sprintf("  (%d unread)", n)
		}
		fmt.Fprintln(a.out, line)
	}
}

func (a *app) create(name string) error {
	room, err := a.s.Rooms.CreateRoom(a.ctx, name)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Created room %s. Share code: %s\n", a.roomLabel(room), room.ShareCode)
	return nil
}

func (a *app) join(code string) error {
	if code == "" {
		return errors.New("usage: join <code>")
	}
	room, err := a.s.Rooms.JoinRoom(a.ctx, code)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Joined %s\n", a.roomLabel(room))
	a.printThread()
	return nil
}

func (a *app) open(ref string) error {
	room, err := a.findRoom(ref)
	if err != nil {
		return err
	}
	if err := a.s.SelectRoom(a.ctx, room.ID); err != nil {
		return err
	}
	a.printThread()
	return nil
}

func (a *app) deleteRoom(ref string) error {
	room, err := a.findRoom(ref)
	if err != nil {
		return err
	}
	if err := a.s.Rooms.DeleteRoom(a.ctx, room.ID); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Deleted %s\n", a.roomLabel(room))
	return nil
}

func (a *app) send(text string) error {
	msg, err := a.s.Send(a.ctx, text)
	if err != nil {
		return err
	}
	if msg == nil {
		if a.s.Rooms.ActiveID() == "" {
			return errors.New("no open room, use 'open <room>' first")
		}
		return errors.New("usage: send <text>")
	}
	a.printMessage(*msg)
	return nil
}

func (a *app) transform(run func(context.Context, string) (string, error), text string) error {
	if text == "" {
		return errors.New("text required")
	}
	out, err := run(a.ctx, text)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, out)
	return nil
}

func (a *app) search(prefix string) error {
	matches, err := a.s.Profiles.Search(a.ctx, prefix, a.s.Identity().UserID)
	if err != nil {
		return err
	}
	a.lastSearch = matches
	if len(matches) == 0 {
		fmt.Fprintln(a.out, "No users found.")
		return nil
	}
	for i, m := range matches {
		fmt.Fprintf(a.out, "%2d. %s\n", i+1, m.Username)
	}
	return nil
}

func (a *app) add(ref string) error {
	if ref == "" {
		return errors.New("usage: add <user>")
	}
	target := ref
	if i, err := strconv.Atoi(ref); err == nil && i >= 1 && i <= len(a.lastSearch) {
		target = a.lastSearch[i-1].ID
	} else {
		for _, m := range a.lastSearch {
			if strings.EqualFold(m.Username, ref) {
				target = m.ID
				break
			}
		}
	}
	if err := a.s.Friendships.SendRequest(a.ctx, target); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Request sent to %s\n", a.s.DisplayName(target))
	return nil
}

func (a *app) requests() []models.Friendship {
	return append(a.s.Friendships.Received(), a.s.Friendships.Sent()...)
}

func (a *app) listRequests() {
	received := a.s.Friendships.Received()
	sent := a.s.Friendships.Sent()
	if len(received)+len(sent) == 0 {
		fmt.Fprintln(a.out, "No pending requests.")
		return
	}
	for i, f := range received {
		fmt.Fprintf(a.out, "%2d. from %s\n", i+1, a.s.DisplayName(f.SenderID))
	}
	for i, f := range sent {
		fmt.Fprintf(a.out, "%2d. to %s\n", len(received)+i+1, a.s.DisplayName(f.ReceiverID))
	}
}

func (a *app) accept(ref string) error {
	f, err := a.findRequest(ref)
	if err != nil {
		return err
	}
	if f.ReceiverID != a.s.Identity().UserID {
		return errors.New("you can only accept requests sent to you")
	}
	room, err := a.s.Friendships.AcceptRequest(a.ctx, f.ID, f.SenderID)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "You and %s are now friends. Opened %s\n", a.s.DisplayName(f.SenderID), a.roomLabel(room))
	return nil
}

func (a *app) cancel(ref string) error {
	f, err := a.findRequest(ref)
	if err != nil {
		return err
	}
	if err := a.s.Friendships.CancelRequest(a.ctx, f.ID); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Cancelled request to %s\n", a.s.DisplayName(f.ReceiverID))
	return nil
}

func (a *app) showSettings() {
	st := a.s.Settings()
	state := "on"
	if !st.AssistantEnabled {
		state = "off"
	}
	fmt.Fprintf(a.out, "assistant %s\nmode      %s\nlang      %s\n", state, st.WritingMode, st.TranslationLanguage)
}

func (a *app) set(args string) error {
	key, value, _ := strings.Cut(args, " ")
	value = strings.ToLower(strings.TrimSpace(value))

	var patch models.SettingsPatch
	switch strings.ToLower(key) {
	case "assistant":
		enabled := value == "on" || value == "true"
		if !enabled && value != "off" && value != "false" {
			return errors.New("usage: set assistant on|off")
		}
		patch.AssistantEnabled = &enabled
	case "mode":
		mode := models.WritingMode(value)
		if mode != models.WritingFormal && mode != models.WritingInformal {
			return errors.New("usage: set mode formal|informal")
		}
		patch.WritingMode = &mode
	case "lang":
		if _, ok := models.TranslationLanguages[value]; !ok {
			return errors.New("usage: set lang es|en|pt|it|de")
		}
		patch.TranslationLanguage = &value
	default:
		return errors.New("usage: set <assistant|mode|lang> <value>")
	}

	if _, err := a.s.UpdateSettings(a.ctx, patch); err != nil {
		return err
	}
	a.showSettings()
	return nil
}

func (a *app) help() {
	fmt.Fprintln(a.out, "\n=== textly commands ===")
	for _, c := range commandHelp {
		fmt.Fprintf(a.out, "%-10s : %s\n", c.Text, c.Description)
	}
}

func (a *app) flushNotices() {
	for _, roomID := range a.s.TakeDeletedNotices() {
		fmt.Fprintf(a.out, "! room %s was deleted by the other participant\n", shortID(roomID))
	}
}

func (a *app) printThread() {
	msgs := a.s.Messages.Messages()
	if len(msgs) == 0 {
		fmt.Fprintln(a.out, "(no messages yet)")
		return
	}
	for _, m := range msgs {
		a.printMessage(m)
	}
}

func (a *app) printMessage(m models.Message) {
	fmt.Fprintf(a.out, "[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04"), a.s.DisplayName(m.SenderID), m.Content)
}

func (a *app) roomLabel(room models.Room) string {
	if room.RoomName != nil && *room.RoomName != "" {
		return *room.RoomName
	}
	if other := room.Counterpart(a.s.Identity().UserID); other != "" {
		return a.s.DisplayName(other)
	}
	return "room " + room.ShareCode
}

func (a *app) findRoom(ref string) (models.Room, error) {
	if ref == "" {
		return models.Room{}, errors.New("room required")
	}
	list := a.s.Rooms.Rooms()
	if i, err := strconv.Atoi(ref); err == nil && i >= 1 && i <= len(list) && len(ref) < 8 {
		return list[i-1], nil
	}
	for _, room := range list {
		if room.ID == ref || room.ShareCode == ref || strings.EqualFold(a.roomLabel(room), ref) {
			return room, nil
		}
	}
	return models.Room{}, rooms.ErrRoomNotFound
}

func (a *app) findRequest(ref string) (models.Friendship, error) {
	list := a.requests()
	if i, err := strconv.Atoi(ref); err == nil && i >= 1 && i <= len(list) {
		return list[i-1], nil
	}
	for _, f := range list {
		if f.ID == ref {
			return f, nil
		}
	}
	return models.Friendship{}, errors.New("request not found, run 'requests' to list them")
}

func describe(err error) string {
	var limited *apiclient.RateLimitError
	switch {
	case errors.As(err, &limited):
		return fmt.Sprintf("too many requests, try again in %s", limited.RetryAfter)
	case errors.Is(err, rooms.ErrRoomDeleted):
		return "this room was deleted, run 'rooms' to reload"
	case errors.Is(err, messages.ErrMessageTooLong):
		return fmt.Sprintf("message too long, the limit is %d characters", messages.MaxLength)
	case errors.Is(err, session.ErrAssistantBusy):
		return "the assistant is still working on the previous request"
	case errors.Is(err, session.ErrAssistantDisabled):
		return "the assistant is disabled, enable it with 'set assistant on'"
	}
	return err.Error()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
