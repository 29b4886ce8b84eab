package story

import (
	"fmt"
	"strings"

	"github.com/storylineai/storyline/internal/database/models"
)

// storyTemplate is a pre-written story skeleton personalized at play time
// with the child's name and primary interest.
type storyTemplate struct {
	id       string
	title    string // may contain {name}
	opening  string // contains {name} and {interest}
	themes   []string
	ageMin   int
	ageMax   int
	duration int // minutes
}

var storyTemplates = []storyTemplate{
	{
		id:       "magic_forest",
		title:    "The Magic Forest Adventure",
		opening:  "Once upon a time, {name} discovered a magical forest where {interest} lived...",
		themes:   []string{"magic", "adventure", "animals", "forest"},
		ageMin:   3,
		ageMax:   8,
		duration: 8,
	},
	{
		id:       "brave_astronaut",
		title:    "Space Adventure with {name}",
		opening:  "{name} put on a special space suit and blasted off to explore {interest} among the stars...",
		themes:   []string{"space", "adventure", "exploration", "science"},
		ageMin:   4,
		ageMax:   10,
		duration: 10,
	},
	{
		id:       "friendly_dragon",
		title:    "The Friendly Dragon",
		opening:  "{name} met a friendly dragon who loved {interest} just as much as {name} did...",
		themes:   []string{"dragons", "friendship", "magic", "adventure"},
		ageMin:   3,
		ageMax:   9,
		duration: 9,
	},
	{
		id:       "underwater_adventure",
		title:    "Under the Sea with {name}",
		opening:  "{name} put on magical fins and dove deep underwater to discover {interest}...",
		themes:   []string{"ocean", "fish", "adventure", "exploration"},
		ageMin:   3,
		ageMax:   8,
		duration: 7,
	},
	{
		id:       "superhero_day",
		title:    "{name} the Superhero",
		opening:  "One morning, {name} woke up with amazing superpowers and used them to help {interest}...",
		themes:   []string{"superhero", "helping", "adventure", "powers"},
		ageMin:   4,
		ageMax:   10,
		duration: 8,
	},
}

// TemplateStory builds a personalized story for the child from the best
// matching template. It always succeeds: when no template fits the age or
// interests, the first age-suitable template (or the first template at all)
// is used with a generic interest.
func TemplateStory(child *models.ChildProfile) *models.Story {
	suitable := make([]storyTemplate, 0, len(storyTemplates))
	for _, t := range storyTemplates {
		if t.ageMin <= child.Age && child.Age <= t.ageMax {
			suitable = append(suitable, t)
		}
	}
	if len(suitable) == 0 {
		suitable = storyTemplates
	}

	best := suitable[0]
	bestScore := -1
	for _, t := range suitable {
		score := 0
		for _, interest := range child.Interests {
			lower := strings.ToLower(interest)
			for _, theme := range t.themes {
				if strings.Contains(theme, lower) {
					score += 2
				}
			}
			if strings.Contains(strings.ToLower(t.opening), lower) {
				score += 3
			}
		}
		if score > bestScore {
			best, bestScore = t, score
		}
	}

	interest := "wonderful things"
	if len(child.Interests) > 0 {
		interest = child.Interests[0]
	}

	return &models.Story{
		ID:          "template:" + best.id,
		Title:       personalize(best.title, child.Name, interest),
		Body:        composeBody(best.opening, child.Name, interest, child.Age),
		AgeMin:      best.ageMin,
		AgeMax:      best.ageMax,
		Themes:      best.themes,
		Language:    child.Language,
		DurationMin: best.duration,
		Source:      models.StorySourceTemplate,
	}
}

func personalize(text, name, interest string) string {
	text = strings.ReplaceAll(text, "{name}", name)
	return strings.ReplaceAll(text, "{interest}", interest)
}

// composeBody expands the template opening with an age-banded middle and
// ending. Younger children get a gentler, shorter arc.
func composeBody(opening, name, interest string, age int) string {
	beginning := personalize(opening, name, interest)

	var middle, ending string
	if age <= 5 {
		middle = fmt.Sprintf("As %s explored, they made new friends and learned about kindness.", name)
		ending = fmt.Sprintf("At the end of the day, %s felt happy and sleepy, knowing tomorrow would bring new adventures. The End.", name)
	} else {
		middle = fmt.Sprintf("%s faced challenges with courage and discovered the importance of friendship and helping others.", name)
		ending = fmt.Sprintf("When the adventure was over, %s returned home with wonderful memories and valuable lessons. Sweet dreams, %s!", name, name)
	}

	return beginning + " " + middle + " " + ending
}
