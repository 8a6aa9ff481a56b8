package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/AlecAivazis/survey/v2"

	"github.com/dyike/cortexdesk/consts"
	"github.com/dyike/cortexdesk/internal/dataflows"
)

// Selections are the answers of one interactive session.
type Selections struct {
	Ticker         string
	AnalysisDate   time.Time
	Analysts       []consts.AnalystKind
	ResearchRounds int
	RiskRounds     int
}

var analystNames = map[consts.AnalystKind]string{
	consts.AnalystMarket:       "Market Analyst",
	consts.AnalystSentiment:    "Social Sentiment Analyst",
	consts.AnalystNews:         "News Analyst",
	consts.AnalystFundamentals: "Fundamentals Analyst",
}

// PromptForTicker prompts the user to enter a stock ticker symbol
func PromptForTicker() (string, error) {
	var ticker string
	prompt := &survey.Input{
		Message: "Enter the stock ticker symbol (e.g., AAPL, MSFT, 0700.HK):",
		Help:    "Please enter a valid stock ticker symbol for analysis",
	}

	err := survey.AskOne(prompt, &ticker, survey.WithValidator(func(val interface{}) error {
		str, _ := val.(string)
		return dataflows.ValidateSymbol(str)
	}))
	if err != nil {
		return "", err
	}

	return dataflows.NormalizeSymbol(ticker), nil
}

// PromptForAnalysisDate prompts the user to enter an analysis date
func PromptForAnalysisDate() (time.Time, error) {
	var dateStr string
	prompt := &survey.Input{
		Message: "Enter the analysis date (YYYY-MM-DD):",
		Help:    "Format: YYYY-MM-DD (e.g., 2024-01-15). Defaults to today.",
		Default: time.Now().Format("2006-01-02"),
	}

	err := survey.AskOne(prompt, &dateStr, survey.WithValidator(func(val interface{}) error {
		str, _ := val.(string)
		parsedDate, err := time.Parse("2006-01-02", strings.TrimSpace(str))
		if err != nil {
			return fmt.Errorf("invalid date format, use YYYY-MM-DD")
		}
		if parsedDate.After(time.Now().AddDate(0, 0, 1)) {
			return fmt.Errorf("analysis date cannot be more than 1 day in the future")
		}
		return nil
	}))
	if err != nil {
		return time.Time{}, err
	}

	return time.Parse("2006-01-02", strings.TrimSpace(dateStr))
}

// PromptForAnalysts prompts the user to select analyst team members
func PromptForAnalysts(defaults []consts.AnalystKind) ([]consts.AnalystKind, error) {
	var options, selectedDefaults []string
	for _, k := range consts.AnalystKinds() {
		options = append(options, analystNames[k])
	}
	for _, k := range defaults {
		selectedDefaults = append(selectedDefaults, analystNames[k])
	}

	var selected []string
	prompt := &survey.MultiSelect{
		Message: "Select analyst team members:",
		Options: options,
		Help:    "Use space to select, enter to confirm.",
		Default: selectedDefaults,
	}
	if err := survey.AskOne(prompt, &selected, survey.WithValidator(survey.MinItems(1))); err != nil {
		return nil, err
	}

	var result []consts.AnalystKind
	for _, k := range consts.AnalystKinds() {
		for _, name := range selected {
			if name == analystNames[k] {
				result = append(result, k)
			}
		}
	}
	return result, nil
}

// PromptForRounds asks for the number of rounds of one debate.
func PromptForRounds(debate string, def int) (int, error) {
	options := []string{"0", "1", "2", "3", "5"}
	defOpt := strconv.Itoa(def)
	found := false
	for _, o := range options {
		found = found || o == defOpt
	}
	if !found {
		options = append(options, defOpt)
	}

	var selected string
	prompt := &survey.Select{
		Message: fmt.Sprintf("Rounds of the %s debate:", debate),
		Options: options,
		Help:    "More rounds give a fuller debate but take longer. With 0 rounds the judge rules without arguments.",
		Default: defOpt,
	}
	if err := survey.AskOne(prompt, &selected); err != nil {
		return 0, err
	}
	return strconv.Atoi(selected)
}

// PromptForConfirmation prompts the user to confirm their selections
func PromptForConfirmation(s Selections) (bool, error) {
	names := make([]string, len(s.Analysts))
	for i, k := range s.Analysts {
		names[i] = analystNames[k]
	}

	fmt.Printf(`
Analysis configuration
  Ticker:          %s
  Date:            %s
  Analysts:        %s
  Research rounds: %d
  Risk rounds:     %d

`, s.Ticker, s.AnalysisDate.Format("2006-01-02"), strings.Join(names, ", "), s.ResearchRounds, s.RiskRounds)

	var confirmed bool
	prompt := &survey.Confirm{
		Message: "Proceed with this analysis configuration?",
		Default: true,
	}
	err := survey.AskOne(prompt, &confirmed)
	return confirmed, err
}

// PromptForRestartOrExit prompts user when analysis completes
func PromptForRestartOrExit() (bool, error) {
	var choice string
	prompt := &survey.Select{
		Message: "Analysis completed! What would you like to do next?",
		Options: []string{
			"Start a new analysis",
			"Exit",
		},
		Default: "Exit",
	}
	if err := survey.AskOne(prompt, &choice); err != nil {
		return false, err
	}
	return choice == "Start a new analysis", nil
}
