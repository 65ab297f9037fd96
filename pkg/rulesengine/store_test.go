package rulesengine

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/srviswan/pb-synth-tradecapture-svc-sub000/pkg/model"
)

var _ = Describe("RuleStore", func() {
	var (
		ctx   context.Context
		store *RuleStore
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = NewRuleStore()
	})

	It("returns seeded rules as-is", func() {
		store.Seed([]model.Rule{{ID: "r1", RuleType: model.RuleEconomic, Enabled: true}})

		rules, err := store.Rules(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(rules).To(HaveLen(1))
		Expect(rules[0].ID).To(Equal("r1"))
	})

	It("lets an admin-written rule shadow a seeded rule sharing its id", func() {
		store.Seed([]model.Rule{{ID: "r1", RuleType: model.RuleEconomic, Priority: 1}})
		store.Put(model.Rule{ID: "r1", RuleType: model.RuleEconomic, Priority: 99})

		rules, err := store.Rules(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(rules).To(HaveLen(1))
		Expect(rules[0].Priority).To(Equal(99))
	})

	It("keeps a reseed from resurrecting a deleted rule", func() {
		store.Seed([]model.Rule{{ID: "r1", RuleType: model.RuleEconomic}})
		Expect(store.Delete("r1")).To(BeTrue())

		store.Seed([]model.Rule{{ID: "r1", RuleType: model.RuleEconomic}})

		rules, err := store.Rules(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(rules).To(BeEmpty())
	})

	It("lets Put resurrect an id previously deleted", func() {
		store.Seed([]model.Rule{{ID: "r1", RuleType: model.RuleEconomic}})
		store.Delete("r1")
		store.Put(model.Rule{ID: "r1", RuleType: model.RuleEconomic, Priority: 5})

		rules, err := store.Rules(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(rules).To(HaveLen(1))
		Expect(rules[0].Priority).To(Equal(5))
	})

	It("reports false deleting an unknown id", func() {
		Expect(store.Delete("missing")).To(BeFalse())
	})

	It("combines seeded and admin-only rules", func() {
		store.Seed([]model.Rule{{ID: "seed-1", RuleType: model.RuleEconomic}})
		store.Put(model.Rule{ID: "admin-1", RuleType: model.RuleWorkflow})

		rules, err := store.Rules(ctx)
		Expect(err).NotTo(HaveOccurred())
		ids := []string{rules[0].ID, rules[1].ID}
		Expect(ids).To(ConsistOf("seed-1", "admin-1"))
	})
})
