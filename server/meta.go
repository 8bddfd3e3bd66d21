package server

import "net/http"

// ttsVoice is one selectable voiceover voice for the client picker.
type ttsVoice struct {
	Index   string `json:"index"`
	Label   string `json:"label"`
	Group   string `json:"group"`
	Default bool   `json:"default,omitempty"`
}

// ttsVoices is the built-in voice catalog of the default provider.
var ttsVoices = []ttsVoice{
	{Index: "zh_female_intellectual", Label: "知性女声", Group: "中文女声", Default: true},
	{Index: "zh_female_morning", Label: "亲切早间主播", Group: "中文女声"},
	{Index: "zh_female_gossip", Label: "活泼八卦风格", Group: "中文女声"},
	{Index: "zh_female_investigative", Label: "调查记者", Group: "中文女声"},
	{Index: "zh_male_tech", Label: "科技UP主", Group: "中文男声"},
	{Index: "zh_male_sports", Label: "体育解说", Group: "中文男声"},
	{Index: "zh_male_breaking_news", Label: "突发新闻", Group: "中文男声"},
	{Index: "zh_male_talk_show", Label: "脱口秀", Group: "中文男声"},
	{Index: "en_female_intellectual", Label: "Professional", Group: "English Female"},
	{Index: "en_female_morning", Label: "Morning Anchor", Group: "English Female"},
	{Index: "en_female_gossip", Label: "Gossip", Group: "English Female"},
	{Index: "en_female_investigative", Label: "Investigative", Group: "English Female"},
	{Index: "en_female_mature", Label: "Mature", Group: "English Female"},
	{Index: "en_female_whisper", Label: "Whisper", Group: "English Female"},
	{Index: "en_male_tech", Label: "Tech Geek", Group: "English Male"},
	{Index: "en_male_sports", Label: "Sports", Group: "English Male"},
	{Index: "en_male_breaking_news", Label: "Breaking News", Group: "English Male"},
	{Index: "en_male_talk_show", Label: "Talk Show", Group: "English Male"},
}

// handleTTSMeta returns the voice catalog the settings panel renders.
func (s *Server) handleTTSMeta(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"provider": s.cfg.TTS.Provider,
		"base_url": s.cfg.TTS.BaseURL,
		"voices":   ttsVoices,
	})
}
