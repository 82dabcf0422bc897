package bot

import (
	"fmt"
	"github.com/maxaizer/fh-notifier/internal/domain/models"
	"github.com/samber/lo"
	"html"
	"regexp"
	"strconv"
	"strings"
)

const descriptionPreviewLength = 200

var (
	lineBreakTags = strings.NewReplacer("<p>", "", "</p>", "\n", "<br>", "\n", "<br/>", "\n", "<br />", "\n")
	htmlTag       = regexp.MustCompile(`<[^>]+>`)
)

func formatProjectMessage(project models.Project) string {

	var sb strings.Builder

	name := project.Name
	if name == "" {
		name = "Назва відсутня"
	}
	sb.WriteString(fmt.Sprintf("<b>🔥 Новий проект:</b> %s\n\n", html.EscapeString(name)))
	sb.WriteString(fmt.Sprintf("<b>Опис:</b> %s\n\n", html.EscapeString(descriptionPreview(project.Description))))

	if project.Budget != nil && project.Budget.Amount > 0 {
		sb.WriteString(fmt.Sprintf("<b>Бюджет:</b> %s %s\n",
			strconv.FormatFloat(project.Budget.Amount, 'f', -1, 64), html.EscapeString(project.Budget.Currency)))
	}

	if len(project.Skills) > 0 {
		skills := lo.Map(project.Skills, func(skill models.Skill, _ int) string { return skill.Name })
		sb.WriteString(fmt.Sprintf("<b>Навички:</b> %s\n", html.EscapeString(strings.Join(skills, ", "))))
	}

	if employer := employerName(project); employer != "" {
		sb.WriteString(fmt.Sprintf("<b>Замовник:</b> %s\n", html.EscapeString(employer)))
	}

	sb.WriteString(fmt.Sprintf("\n<b>🔗 <a href='%s'>Відкрити проект</a></b>", html.EscapeString(projectURL(project))))
	return sb.String()
}

func descriptionPreview(description string) string {
	cleaned := strings.TrimSpace(htmlTag.ReplaceAllString(lineBreakTags.Replace(description), ""))
	if cleaned == "" {
		return "Опис відсутній"
	}

	runes := []rune(cleaned)
	if len(runes) <= descriptionPreviewLength {
		return cleaned
	}
	return string(runes[:descriptionPreviewLength]) + "..."
}

func employerName(project models.Project) string {
	name := strings.TrimSpace(project.EmployerName)
	switch {
	case project.EmployerLogin == "":
		return name
	case name == "":
		return "@" + project.EmployerLogin
	default:
		return fmt.Sprintf("%s (@%s)", name, project.EmployerLogin)
	}
}

func projectURL(project models.Project) string {
	if project.URL != "" {
		return project.URL
	}
	return fmt.Sprintf("https://freelancehunt.com/project/%d.html", project.ID)
}
