package notify

import (
	"fmt"
	"time"
)

// Milestone is a treatment day that earns a push notification.
type Milestone struct {
	Day   int
	Title string
	Body  string
}

var milestones = []Milestone{
	{1, "Seu tratamento começou!", "Hoje é o dia 1. Tome sua cápsula e beba bastante água."},
	{3, "Dia 3: o corpo está se adaptando", "Continue firme com as cápsulas e a hidratação."},
	{5, "Dia 5: primeira meta à vista", "Confira seu progresso e registre seus hábitos de hoje."},
	{7, "Uma semana de tratamento!", "Parabéns pela primeira semana. Veja sua evolução no app."},
	{10, "Dia 10: constância é tudo", "Que tal uma receita nova hoje?"},
	{14, "Duas semanas!", "Metade do caminho do primeiro pote. Atualize seu peso."},
	{18, "Dia 18: reta de hábitos", "Os exercícios desta semana já estão disponíveis."},
	{21, "Três semanas de tratamento", "Hábitos formados! Confira suas conquistas."},
	{23, "Dia 23: quase lá", "Faltam poucos dias para fechar o ciclo."},
	{25, "Dia 25: hora de planejar", "Garanta a continuidade do seu tratamento."},
}

// MilestoneFor returns the milestone scheduled for day, if any.
func MilestoneFor(day int) (Milestone, bool) {
	for _, m := range milestones {
		if m.Day == day {
			return m, true
		}
	}
	return Milestone{}, false
}

// MilestoneDays lists the scheduled days in ascending order.
func MilestoneDays() []int {
	days := make([]int, len(milestones))
	for i, m := range milestones {
		days[i] = m.Day
	}
	return days
}

// TreatmentDay is the 1-based day of treatment: floor((today-start)/1day)+1.
// start is a calendar date; today is an instant read as a date in loc. Both are
// compared as UTC midnights so daylight-saving shifts never skip or repeat a day.
func TreatmentDay(start, today time.Time, loc *time.Location) int {
	y, m, d := start.Date()
	s := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return int(Today(today, loc).Sub(s).Hours()/24) + 1
}

// Today returns the calendar date of t in loc as a UTC midnight.
func Today(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// MilestoneTag is the push tag for a milestone; the browser replaces a
// notification carrying the same tag instead of stacking it.
func MilestoneTag(day int, date time.Time) string {
	return fmt.Sprintf("milestone-day%d-%s", day, date.Format(time.DateOnly))
}
