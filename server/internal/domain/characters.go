package domain

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"junction-sim/server/internal/model"
)

type charactersFile struct {
	Characters []model.Character `yaml:"characters"`
}

// LoadCharacters 从 YAML 加载角色配置；path 为空时返回内置角色。
func LoadCharacters(path string) ([]model.Character, error) {
	if path == "" {
		return DefaultCharacters(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read characters: %w", err)
	}

	var file charactersFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse characters: %w", err)
	}
	if err := ValidateCharacters(file.Characters); err != nil {
		return nil, err
	}
	return file.Characters, nil
}

// ValidateCharacters 检查角色 id 唯一、目标 id 在角色内唯一、权重非负。
func ValidateCharacters(chars []model.Character) error {
	if len(chars) == 0 {
		return fmt.Errorf("no characters configured")
	}
	seen := make(map[string]bool, len(chars))
	for _, c := range chars {
		if c.ID == "" {
			return fmt.Errorf("character with empty id")
		}
		if seen[c.ID] {
			return fmt.Errorf("duplicate character id: %s", c.ID)
		}
		seen[c.ID] = true
		if c.Name == "" {
			return fmt.Errorf("character %s: name required", c.ID)
		}
		if c.ScoreImpact < 0 {
			return fmt.Errorf("character %s: score_impact must be >= 0", c.ID)
		}
		objIDs := make(map[string]bool, len(c.Objectives))
		for _, o := range c.Objectives {
			if o.ID == "" {
				return fmt.Errorf("character %s: objective with empty id", c.ID)
			}
			if objIDs[o.ID] {
				return fmt.Errorf("character %s: duplicate objective id %s", c.ID, o.ID)
			}
			objIDs[o.ID] = true
		}
	}
	return nil
}

// FindCharacter 按 id 查找角色。
func FindCharacter(chars []model.Character, id string) (model.Character, bool) {
	for _, c := range chars {
		if c.ID == id {
			return c, true
		}
	}
	return model.Character{}, false
}

// DefaultCharacters 返回黑客松场景的三个内置角色。
func DefaultCharacters() []model.Character {
	return []model.Character{
		{
			ID:          "annoying-teammate",
			Name:        "Alex",
			Title:       "Annoying Teammate with Good Idea",
			ModelURL:    "https://models.readyplayer.me/6918415bfb99478e41ab217d.glb",
			AgentID:     "agent_6701ka3p5g34evav5h5yn3a1r98q",
			Goal:        "Listen to their idea and provide constructive feedback without dismissing them",
			Description: "An enthusiastic teammate who has a genuinely good idea but presents it in an annoying way",
			Objectives: []model.Objective{
				{ID: "listen", Description: "Let Alex explain the idea fully without interrupting or dismissing it"},
				{ID: "acknowledge", Description: "Acknowledge what is genuinely good about the idea"},
				{ID: "feedback", Description: "Give specific, constructive feedback on how to improve the idea"},
			},
			ScoreImpact: 30,
			Position:    model.Position{X: 25, Y: 40},
		},
		{
			ID:          "unmotivated-teammate",
			Name:        "Jordan",
			Title:       "Unmotivated Teammate",
			ModelURL:    "https://models.readyplayer.me/691864cc672cca15c2fe3f3a.glb",
			AgentID:     "agent_0301ka3p51kcevfvty4zjqxz2qz0",
			Goal:        "Motivate them to contribute to the project",
			Description: "A team member who seems disengaged and needs motivation",
			Objectives: []model.Objective{
				{ID: "understand", Description: "Ask Jordan why they feel disengaged and listen to the answer"},
				{ID: "connect", Description: "Connect the project to something Jordan cares about"},
				{ID: "commit", Description: "Get Jordan to agree to a concrete task"},
			},
			ScoreImpact: 30,
			Position:    model.Position{X: 75, Y: 60},
		},
		{
			ID:          "sassy-judge",
			Name:        "Morgan",
			Title:       "Sassy Judge",
			ModelURL:    "https://models.readyplayer.me/6918653b8e7eb1274343a95d.glb",
			AgentID:     "agent_1201ka3jnv0mea5bsqkt2gt1j4mz",
			Goal:        "Present your hackathon project confidently and handle their tough questions",
			Description: "A judge with a sharp tongue who will challenge your project pitch",
			Objectives: []model.Objective{
				{ID: "pitch", Description: "Explain the problem and the solution clearly"},
				{ID: "confidence", Description: "Stay calm and confident when challenged"},
				{ID: "answer", Description: "Answer the judge's tough question with a concrete argument"},
			},
			ScoreImpact: 40,
			Position:    model.Position{X: 50, Y: 25},
		},
	}
}
