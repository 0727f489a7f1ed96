// Package results provides utilities for loading, filtering, and analyzing
// saved episode results.
package results

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/roboloop/roboloop/pkg/spec"
)

// Stats holds computed statistics from one or more episodes.
type Stats struct {
	EpisodesTotal   int     `json:"episodesTotal"`
	EpisodesPassed  int     `json:"episodesPassed"`
	EpisodePassRate float64 `json:"episodePassRate"`
	SubtasksTotal   int     `json:"subtasksTotal"`
	SubtasksPassed  int     `json:"subtasksPassed"`
	SubtaskPassRate float64 `json:"subtaskPassRate"`
	AttemptsTotal   int     `json:"attemptsTotal"`
}

// Load reads a JSON episode file produced by the run command.
func Load(path string) (*spec.EpisodeResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read episode file: %w", err)
	}

	episode := &spec.EpisodeResult{}
	if err := json.Unmarshal(data, episode); err != nil {
		return nil, fmt.Errorf("failed to parse episode JSON: %w", err)
	}

	return episode, nil
}

// LoadAll reads several episode files.
func LoadAll(paths []string) ([]*spec.EpisodeResult, error) {
	episodes := make([]*spec.EpisodeResult, 0, len(paths))
	for _, path := range paths {
		episode, err := Load(path)
		if err != nil {
			return nil, err
		}
		episodes = append(episodes, episode)
	}
	return episodes, nil
}

// FilterSubtasks returns the subset of an episode's subtask results whose
// names contain the filter substring.
func FilterSubtasks(episode *spec.EpisodeResult, filter string) []*spec.SubtaskResult {
	if filter == "" {
		return episode.Subtasks
	}

	filter = strings.ToLower(filter)
	filtered := make([]*spec.SubtaskResult, 0, len(episode.Subtasks))
	for _, s := range episode.Subtasks {
		if strings.Contains(strings.ToLower(s.SubtaskName), filter) {
			filtered = append(filtered, s)
		}
	}
	return filtered
}

// CalculateStats computes statistics over episodes.
func CalculateStats(episodes []*spec.EpisodeResult) Stats {
	stats := Stats{EpisodesTotal: len(episodes)}

	for _, episode := range episodes {
		if episode.Status == spec.StatusSuccess {
			stats.EpisodesPassed++
		}

		for _, subtask := range episode.Subtasks {
			stats.SubtasksTotal++
			if subtask.FinalStatus == spec.StatusSuccess {
				stats.SubtasksPassed++
			}
			stats.AttemptsTotal += len(subtask.Attempts)
		}
	}

	if stats.EpisodesTotal > 0 {
		stats.EpisodePassRate = float64(stats.EpisodesPassed) / float64(stats.EpisodesTotal)
	}
	if stats.SubtasksTotal > 0 {
		stats.SubtaskPassRate = float64(stats.SubtasksPassed) / float64(stats.SubtasksTotal)
	}

	return stats
}

// FailureReason returns a short explanation for a failed subtask: the last
// attempt's failure mode and notes.
func FailureReason(subtask *spec.SubtaskResult) string {
	if subtask.FinalStatus == spec.StatusSuccess || len(subtask.Attempts) == 0 {
		return ""
	}

	last := subtask.Attempts[len(subtask.Attempts)-1]
	if last.Verify == nil {
		return ""
	}
	if last.Verify.Notes != "" {
		return fmt.Sprintf("%s: %s", last.Verify.FailureMode, last.Verify.Notes)
	}
	return last.Verify.FailureMode
}
