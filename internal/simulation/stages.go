package simulation

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/persona-sim/internal/completion"
	"github.com/sells-group/persona-sim/internal/jsonx"
	"github.com/sells-group/persona-sim/internal/model"
	"github.com/sells-group/persona-sim/internal/prompts"
)

// instance carries what every stage of one simulation instance shares.
type instance struct {
	completer  completion.Completer
	prompts    *prompts.Set
	persona    model.Persona
	product    string
	modelName  string
	webContext string
}

func (in *instance) call(ctx context.Context, system, user string) (string, error) {
	msgs := []completion.Message{completion.System(system)}
	if in.webContext != "" {
		msgs = append(msgs, completion.System(in.webContext))
	}
	msgs = append(msgs, completion.User(user))
	return in.completer.Complete(ctx, completion.Request{
		Messages: msgs,
		JSON:     true,
		Model:    in.modelName,
	})
}

func (in *instance) header(productLabel string) string {
	return fmt.Sprintf("Persona:\n%s\n\n%s:\n%s", in.persona.Description, productLabel, in.product)
}

// run executes the five stages and returns the merged, unnormalized result.
func (in *instance) run(ctx context.Context) (map[string]any, error) {
	initial, err := in.initialReaction(ctx)
	if err != nil {
		return nil, err
	}
	questions := in.inquiry(ctx, initial)
	refined, err := in.refinedReaction(ctx, initial, questions)
	if err != nil {
		return nil, err
	}
	ad, err := in.adCopy(ctx, refined)
	if err != nil {
		return nil, err
	}
	optimized, err := in.optimizeProduct(ctx, refined)
	if err != nil {
		return nil, err
	}

	out := make(map[string]any, len(refined)+2)
	for k, v := range refined {
		out[k] = v
	}
	out["ad_copy"] = ad
	out["optimized_product"] = optimized
	return out, nil
}

func (in *instance) initialReaction(ctx context.Context) (map[string]any, error) {
	user := in.header("Product description") +
		"\n\nEvaluate the value and appeal of this product entirely from the perspective of the person described above."
	raw, err := in.call(ctx, in.prompts.Simulation, user)
	if err != nil {
		return nil, eris.Wrap(err, "simulation: initial reaction")
	}
	obj, err := jsonx.Object(raw)
	if err != nil {
		return nil, eris.Wrap(completion.ErrFormat, "simulation: could not parse initial reaction")
	}
	return obj, nil
}

func (in *instance) inquiry(ctx context.Context, initial map[string]any) []prompts.Question {
	user := in.header("Product description") +
		"\n\nInitial feedback:\n" + jsonx.Pretty(initial) +
		"\n\nAsk 3-5 key questions that dig deeper into this user's real reaction and feelings about the product."
	raw, err := in.call(ctx, in.prompts.Inquiry, user)
	if err != nil {
		zap.L().Debug("simulation: inquiry failed, continuing without questions", zap.Error(err))
		return nil
	}
	obj, err := jsonx.Object(raw)
	if err != nil {
		zap.L().Debug("simulation: inquiry response not json, continuing without questions")
		return nil
	}
	return prompts.ParseQuestions(obj, "aspect")
}

func (in *instance) refinedReaction(ctx context.Context, initial map[string]any, qs []prompts.Question) (map[string]any, error) {
	if len(qs) == 0 {
		return initial, nil
	}
	user := in.header("Product description") +
		"\n\nYour initial reaction:\n" + jsonx.Pretty(initial) +
		"\n\nRethink your evaluation of the product in light of these follow-up questions:\n" +
		prompts.FormatQuestions(qs, "explore further") +
		"\n\nConsider every question carefully and give deeper, more honest feedback. Return the complete JSON object with every required field."
	raw, err := in.call(ctx, in.prompts.Refined, user)
	if err != nil {
		return nil, eris.Wrap(err, "simulation: refined reaction")
	}
	obj, err := jsonx.Object(raw)
	if err != nil {
		zap.L().Debug("simulation: refined reaction not json, using initial reaction")
		return initial, nil
	}
	return obj, nil
}

// failedAd is returned when the first ad draft cannot be parsed.
func failedAd() map[string]any {
	return map[string]any{
		"ad_headline":         "generation failed",
		"ad_body":             "generation failed",
		"key_pain_points":     []any{},
		"target_emotions":     []any{},
		"controversial_point": "",
		"discussion_angle":    "",
	}
}

func (in *instance) adCopy(ctx context.Context, feedback map[string]any) (map[string]any, error) {
	base := in.header("Product description") + "\n\nUser feedback:\n" + jsonx.Pretty(feedback)

	raw, err := in.call(ctx, in.prompts.AdGeneration, base+
		"\n\nWrite ad copy that hits this user's pain points. It may raise a controversial or counter-intuitive angle as long as it relates to the product's value and invites a worthwhile discussion.")
	if err != nil {
		return nil, eris.Wrap(err, "simulation: ad draft")
	}
	draft, err := jsonx.Object(raw)
	if err != nil {
		zap.L().Debug("simulation: ad draft not json, using stub")
		return failedAd(), nil
	}

	withDraft := base + "\n\nInitial ad copy:\n" + jsonx.Pretty(draft)
	raw, err = in.call(ctx, in.prompts.AdReviewer, withDraft+
		"\n\nPay particular attention to how the controversial content is handled and suggest improvements.")
	if err != nil {
		return nil, eris.Wrap(err, "simulation: ad review")
	}
	review, err := jsonx.Object(raw)
	if err != nil {
		zap.L().Debug("simulation: ad review not json, using draft")
		return draft, nil
	}
	qs := prompts.ParseQuestions(review, "dimension")
	if len(qs) == 0 {
		return draft, nil
	}

	raw, err = in.call(ctx, in.prompts.AdGeneration, withDraft+
		"\n\nImprove the ad copy according to the following questions, paying particular attention to the controversial content:\n"+
		prompts.FormatQuestions(qs, "improvement"))
	if err != nil {
		return nil, eris.Wrap(err, "simulation: ad improvement")
	}
	improved, err := jsonx.Object(raw)
	if err != nil {
		zap.L().Debug("simulation: improved ad not json, using draft")
		return draft, nil
	}
	return improved, nil
}

func (in *instance) optimizeProduct(ctx context.Context, feedback map[string]any) (map[string]any, error) {
	user := in.header("Current product description") +
		"\n\nUser feedback:\n" + jsonx.Pretty(feedback) +
		"\n\nProvide an optimized product description and improvement suggestions."
	raw, err := in.call(ctx, in.prompts.ProductOptimization, user)
	if err != nil {
		return nil, eris.Wrap(err, "simulation: product optimization")
	}
	obj, err := jsonx.Object(raw)
	if err != nil {
		zap.L().Debug("simulation: product optimization not json, using fallback")
		return map[string]any{
			"optimized_description":   in.product,
			"key_improvements":        []any{},
			"expected_benefits":       []any{},
			"implementation_priority": "medium",
		}, nil
	}
	return obj, nil
}
