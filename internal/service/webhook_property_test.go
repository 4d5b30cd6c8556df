package service

import (
	"errors"
	"net/http"
	"testing"

	"pgregory.net/rapid"

	"github.com/efreitasn/hybridexchange/internal/domain"
)

var (
	hookAccounts = []string{"alice", "bob", "carol"}
	hookEvents   = []string{EventFillExecuted, EventOrderCancelled, EventTransferExecuted}
	hookURLs     = []string{"https://a.example.com/h", "https://b.example.com/h"}
)

type subscription struct {
	id  string
	url string
}

type pair struct {
	account string
	event   string
}

// Random subscribe and delete sequences keep exactly one subscription per
// (account, event). A pair keeps the id it got when first subscribed and
// carries the latest URL; deleting it frees the pair for a new id.
func TestProperty_SubscriptionsFollowAccountEventPairs(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		svc := newTestWebhookService()
		model := map[pair]subscription{}

		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			account := rapid.SampledFrom(hookAccounts).Draw(t, "account")

			if len(model) > 0 && rapid.IntRange(0, 3).Draw(t, "op") == 0 {
				var owned []pair
				for p := range model {
					if p.account == account {
						owned = append(owned, p)
					}
				}
				if len(owned) == 0 {
					continue
				}
				p := owned[rapid.IntRange(0, len(owned)-1).Draw(t, "victim")]
				sub := model[p]
				other := rapid.SampledFrom(hookAccounts).Draw(t, "deleter")
				if other != account {
					if err := svc.Delete(other, sub.id); !errors.Is(err, domain.ErrWebhookNotFound) {
						t.Fatalf("%s deleted %s's webhook: %v", other, account, err)
					}
				}
				if err := svc.Delete(account, sub.id); err != nil {
					t.Fatalf("delete %s: %v", sub.id, err)
				}
				delete(model, p)
				continue
			}

			events := rapid.SliceOfNDistinct(rapid.SampledFrom(hookEvents), 1, len(hookEvents), rapid.ID[string]).Draw(t, "events")
			url := rapid.SampledFrom(hookURLs).Draw(t, "url")
			got, created, err := svc.Upsert(UpsertWebhookRequest{AccountID: account, URL: url, Events: events})
			if err != nil {
				t.Fatalf("upsert: %v", err)
			}
			wantCreated := false
			for _, wh := range got {
				p := pair{account, wh.Event}
				prev, existed := model[p]
				if existed && wh.WebhookID != prev.id {
					t.Fatalf("%v changed id %s -> %s", p, prev.id, wh.WebhookID)
				}
				wantCreated = wantCreated || !existed
				model[p] = subscription{id: wh.WebhookID, url: url}
			}
			if created != wantCreated {
				t.Fatalf("created = %v, want %v", created, wantCreated)
			}
		}

		for _, account := range hookAccounts {
			listed, err := svc.List(account)
			if err != nil {
				t.Fatalf("list %s: %v", account, err)
			}
			want := 0
			for p := range model {
				if p.account == account {
					want++
				}
			}
			if len(listed) != want {
				t.Fatalf("%s lists %d subscriptions, want %d", account, len(listed), want)
			}
			for _, wh := range listed {
				sub, ok := model[pair{account, wh.Event}]
				if !ok || sub.id != wh.WebhookID || sub.url != wh.URL {
					t.Fatalf("%s %s = (%s, %s), want %+v", account, wh.Event, wh.WebhookID, wh.URL, sub)
				}
			}
		}
	})
}

// A fill notifies its taker and, unless the vault made it, its maker, each
// only if subscribed to fill.executed. Other subscriptions see nothing.
func TestProperty_FillReachesSubscribedSides(t *testing.T) {
	rec := newRecorder(t, http.StatusOK)
	codec := domain.NewCodec(testMarket())

	rapid.Check(t, func(t *rapid.T) {
		rec.mu.Lock()
		rec.payloads, rec.headers = nil, nil
		rec.mu.Unlock()
		svc := rec.service()

		subscribed := map[string]bool{}
		for _, account := range hookAccounts {
			event := rapid.SampledFrom(append([]string{""}, hookEvents...)).Draw(t, "event_"+account)
			if event == "" {
				continue
			}
			if _, _, err := svc.Upsert(UpsertWebhookRequest{AccountID: account, URL: rec.server.URL, Events: []string{event}}); err != nil {
				t.Fatalf("upsert: %v", err)
			}
			subscribed[account] = event == EventFillExecuted
		}

		f := testFill(rapid.Bool().Draw(t, "from_vault"))
		f.Taker = rapid.SampledFrom(hookAccounts).Draw(t, "taker")
		if !f.FromVault() {
			f.Maker = rapid.SampledFrom(hookAccounts).Draw(t, "maker")
		}
		svc.DispatchFillExecuted(codec, f)
		svc.Wait()

		want := map[string]string{}
		if subscribed[f.Taker] {
			want["taker"] = f.Taker
		}
		if !f.FromVault() && subscribed[f.Maker] {
			want["maker"] = f.Maker
		}

		got := rec.received()
		if len(got) != len(want) {
			t.Fatalf("got %d deliveries, want %d (%v)", len(got), len(want), want)
		}
		for _, p := range got {
			if p["event"] != EventFillExecuted {
				t.Fatalf("got event %v", p["event"])
			}
			data := p["data"].(map[string]any)
			role, _ := data["role"].(string)
			if want[role] != data["account_id"] {
				t.Fatalf("%s delivery went to %v, want %q", role, data["account_id"], want[role])
			}
		}
	})
}
