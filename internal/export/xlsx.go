// Package export writes task results to spreadsheets.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/persona-sim/internal/model"
)

// Sheet names.
const (
	SheetPersonas    = "Personas"
	SheetSimulations = "Simulations"
	SheetSummary     = "Summary"
)

const listSep = "; "

var personaHeader = []string{
	"persona_id", "persona_description", "key_needs", "usage_scenarios", "user_type",
	"usage_frequency", "location", "would_recommend", "generated_at", "error",
}

var simulationHeader = []string{
	"simulation_id", "persona_id", "user_type", "usage_frequency", "initial_impression",
	"perceived_needs", "would_try", "would_buy", "is_must_have", "would_recommend",
	"dependency_level", "alternatives", "barrier_to_adoption", "feedback",
	"suggested_improvements", "ad_headline", "ad_body", "optimized_description",
	"implementation_priority", "simulated_at", "error",
}

// WriteXLSX writes personas and simulations to a workbook at path.
func WriteXLSX(path string, personas []model.Persona, sims []model.SimulationResult) error {
	f, err := workbook(personas, sims)
	if err != nil {
		return err
	}
	return save(f, path)
}

func workbook(personas []model.Persona, sims []model.SimulationResult) (*xlsx.File, error) {
	f := xlsx.NewFile()

	ps, err := f.AddSheet(SheetPersonas)
	if err != nil {
		return nil, eris.Wrap(err, "export: add personas sheet")
	}
	addStrings(ps, personaHeader)
	for _, p := range personas {
		row := ps.AddRow()
		addCells(row, p.ID, p.Description, strings.Join(p.KeyNeeds, listSep),
			strings.Join(p.UsageScenarios, listSep), p.UserType, p.UsageFrequency, p.Location)
		row.AddCell().SetBool(p.WouldRecommend)
		addCells(row, p.GeneratedAt, p.Error)
	}

	ss, err := f.AddSheet(SheetSimulations)
	if err != nil {
		return nil, eris.Wrap(err, "export: add simulations sheet")
	}
	addStrings(ss, simulationHeader)
	for _, r := range sims {
		row := ss.AddRow()
		addCells(row, r.SimulationID, r.PersonaID, r.UserType, r.UsageFrequency,
			r.InitialImpression, r.PerceivedNeeds)
		for _, b := range []bool{r.WouldTry, r.WouldBuy, r.IsMustHave, r.WouldRecommend} {
			row.AddCell().SetBool(b)
		}
		var headline, body, optimized, priority string
		if r.AdCopy != nil {
			headline, body = r.AdCopy.Headline, r.AdCopy.Body
		}
		if r.OptimizedProduct != nil {
			optimized, priority = r.OptimizedProduct.Description, r.OptimizedProduct.ImplementationPriority
		}
		addCells(row, r.DependencyLevel, strings.Join(r.Alternatives, listSep), r.BarrierToAdoption,
			r.Feedback, r.SuggestedImprovements, headline, body, optimized, priority,
			r.SimulatedAt, r.Error)
	}
	return f, nil
}

// Reporter writes a task report workbook into a directory.
type Reporter struct {
	Dir string
}

// Write saves {dir}/{task_id}_report.xlsx with a summary sheet after the
// personas and simulations sheets, and returns its path.
func (r Reporter) Write(ctx context.Context, in model.ReportInput) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	f, err := workbook(in.Personas, in.Simulations)
	if err != nil {
		return "", err
	}
	if err := addSummary(f, in); err != nil {
		return "", err
	}
	path := filepath.Join(r.Dir, fmt.Sprintf("%s_report.xlsx", in.TaskID))
	if err := save(f, path); err != nil {
		return "", err
	}
	return path, nil
}

func addSummary(f *xlsx.File, in model.ReportInput) error {
	sh, err := f.AddSheet(SheetSummary)
	if err != nil {
		return eris.Wrap(err, "export: add summary sheet")
	}
	addStrings(sh, []string{"metric", "value"})
	addStrings(sh, []string{"product_description", in.ProductDescription})

	if s := in.Stats; s != nil {
		addStrings(sh, []string{"total_personas", strconv.Itoa(s.TotalPersonas)})
		addStrings(sh, []string{"total_simulations", strconv.Itoa(s.TotalSimulations)})
		addPct(sh, "would_try_percentage", s.WouldTryPercentage)
		addPct(sh, "would_buy_percentage", s.WouldBuyPercentage)
		addPct(sh, "must_have_percentage", s.MustHavePercentage)
		addPct(sh, "would_recommend_percentage", s.WouldRecommendPercentage)
		for _, group := range []struct {
			prefix string
			values map[string]float64
		}{
			{"dependency", s.DependencyPercentages},
			{"user_type", s.UserTypePercentages},
			{"usage_frequency", s.UsageFrequencyPercentages},
			{"location", s.LocationPercentages},
		} {
			for _, k := range sortedKeys(group.values) {
				addPct(sh, group.prefix+":"+k, group.values[k])
			}
		}
		for _, b := range s.TopBarriers {
			addStrings(sh, []string{"barrier:" + b.Barrier, strconv.Itoa(b.Count)})
		}
	}
	if in.WebSummary != "" {
		addStrings(sh, []string{"web_search_summary", in.WebSummary})
	}
	if in.WebReferences != "" {
		addStrings(sh, []string{"web_search_references", in.WebReferences})
	}
	return nil
}

func save(f *xlsx.File, path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "export: create dir %s", dir)
		}
	}
	return eris.Wrapf(f.Save(path), "export: save %s", path)
}

func addStrings(sh *xlsx.Sheet, values []string) {
	addCells(sh.AddRow(), values...)
}

func addCells(row *xlsx.Row, values ...string) {
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func addPct(sh *xlsx.Sheet, name string, v float64) {
	row := sh.AddRow()
	row.AddCell().SetString(name)
	row.AddCell().SetFloat(v)
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ReadSheet returns the rows of the named sheet as strings.
func ReadSheet(path, name string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "export: open file")
	}
	sheet, ok := f.Sheet[name]
	if !ok {
		return nil, eris.Errorf("export: sheet %q not found", name)
	}
	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return rows, nil
}
