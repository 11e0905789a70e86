package rcon

import (
	"fmt"
	"strconv"
	"strings"
)

// ServerInfo is the summary assembled from the list and tps commands.
type ServerInfo struct {
	PlayerCount int
	MaxPlayers  int
	TPS         float64
}

// Players runs the list command and returns the online player names.
// The conventional response is
// "There are X of a max of Y players online: name1, name2".
func (c *Client) Players() ([]string, error) {
	resp, err := c.SendCommand("list")
	if err != nil {
		return nil, err
	}
	return parsePlayerList(resp), nil
}

func parsePlayerList(resp string) []string {
	const marker = "players online:"
	idx := strings.Index(resp, marker)
	if idx < 0 || !strings.Contains(resp, "There are") {
		return nil
	}
	var players []string
	for _, name := range strings.Split(resp[idx+len(marker):], ",") {
		name = strings.TrimSpace(name)
		if name != "" {
			players = append(players, name)
		}
	}
	return players
}

// Info queries player counts and tick rate.
func (c *Client) Info() (ServerInfo, error) {
	listResp, err := c.SendCommand("list")
	if err != nil {
		return ServerInfo{}, err
	}
	info := parsePlayerCounts(listResp)

	tpsResp, err := c.SendCommand("tps")
	if err != nil {
		return ServerInfo{}, err
	}
	info.TPS = parseTPS(tpsResp)
	return info, nil
}

func parsePlayerCounts(resp string) ServerInfo {
	info := ServerInfo{TPS: 20.0}
	arePos := strings.Index(resp, "There are")
	ofPos := strings.Index(resp, "of a max of")
	onlinePos := strings.Index(resp, "players online")
	if arePos < 0 || ofPos < 0 || onlinePos < 0 {
		return info
	}
	count := strings.TrimSpace(resp[arePos+len("There are") : ofPos])
	maxStr := strings.TrimSpace(resp[ofPos+len("of a max of") : onlinePos])
	info.PlayerCount, _ = strconv.Atoi(count)
	info.MaxPlayers, _ = strconv.Atoi(maxStr)
	return info
}

// parseTPS pulls the first plausible tick-rate value out of a tps response.
// Formats vary by server; anything in (0, 20] counts.
func parseTPS(resp string) float64 {
	if !strings.Contains(resp, "TPS") {
		return 20.0
	}
	for _, word := range strings.Fields(resp) {
		word = strings.Trim(word, ",*")
		if v, err := strconv.ParseFloat(word, 64); err == nil && v > 0 && v <= 20.0 {
			return v
		}
	}
	return 20.0
}

// Ping checks that the server answers commands, not just TCP connects.
func (c *Client) Ping() bool {
	_, err := c.SendCommand("list")
	return err == nil
}

// The remaining helpers are thin command formatters; none add protocol
// behavior beyond SendCommand.

func (c *Client) Kick(player, reason string) (string, error) {
	return c.SendCommand(strings.TrimSpace(fmt.Sprintf("kick %s %s", player, reason)))
}

func (c *Client) Ban(player, reason string) (string, error) {
	return c.SendCommand(strings.TrimSpace(fmt.Sprintf("ban %s %s", player, reason)))
}

func (c *Client) Say(message string) (string, error) {
	return c.SendCommand("say " + message)
}

func (c *Client) Teleport(player string, x, y, z float64) (string, error) {
	return c.SendCommand(fmt.Sprintf("tp %s %g %g %g", player, x, y, z))
}

func (c *Client) Give(player, item string, count int) (string, error) {
	return c.SendCommand(fmt.Sprintf("give %s %s %d", player, item, count))
}

func (c *Client) TimeSet(value string) (string, error) {
	return c.SendCommand("time set " + value)
}

func (c *Client) WeatherSet(value string) (string, error) {
	return c.SendCommand("weather " + value)
}

func (c *Client) SaveAll() (string, error) {
	return c.SendCommand("save-all")
}

// Stop asks the server to shut itself down. Used as the fallback graceful-stop
// channel when the process stdin pipe is unavailable.
func (c *Client) Stop() (string, error) {
	return c.SendCommand("stop")
}
