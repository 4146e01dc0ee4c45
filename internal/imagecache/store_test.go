package imagecache

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/zombor/card-scanner/internal/cardkey"
)

type sequenceIDGenerator struct {
	mu   sync.Mutex
	next int
}

func (g *sequenceIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return "obj-" + strconv.Itoa(g.next)
}

type mockTimeSource struct {
	now time.Time
}

func (m *mockTimeSource) Now() time.Time {
	return m.now
}

// failingIndex wraps an Index and injects errors
type failingIndex struct {
	Index
	getErr    error
	insertErr error
}

func (f *failingIndex) Get(ctx context.Context, key cardkey.Key) (*CachedImage, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.Index.Get(ctx, key)
}

func (f *failingIndex) Insert(ctx context.Context, entry *CachedImage) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	return f.Index.Insert(ctx, entry)
}

// failingStorage wraps a Storage and injects save errors
type failingStorage struct {
	Storage
	saveErr error
}

func (f *failingStorage) Save(ctx context.Context, name string, data []byte, contentType string) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	return f.Storage.Save(ctx, name, data, contentType)
}

var _ = Describe("Store", func() {
	var (
		tmpDir  string
		index   *BoltIndex
		storage *LocalStorage
		store   *Store
		ctx     context.Context
		key     cardkey.Key
		pngData []byte
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		index, err = NewBoltIndex(filepath.Join(tmpDir, "index.db"))
		Expect(err).NotTo(HaveOccurred())
		storage, err = NewLocalStorage(filepath.Join(tmpDir, "objects"), "http://cards.test")
		Expect(err).NotTo(HaveOccurred())
		store = NewStoreWithDeps(index, storage, &sequenceIDGenerator{}, &mockTimeSource{now: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)})
		ctx = context.Background()
		key = cardkey.Build("pokemon", "Charizard ex", "Obsidian Flames", "125/197", "")
		pngData = []byte("\x89PNG\r\n\x1a\nfake")
	})

	AfterEach(func() {
		index.Close()
	})

	Describe("Lookup", func() {
		When("nothing is stored", func() {
			It("reports not found without an error", func() {
				entry, found, err := store.Lookup(ctx, key)
				Expect(err).NotTo(HaveOccurred())
				Expect(found).To(BeFalse())
				Expect(entry).To(BeNil())
			})
		})

		When("the key is empty", func() {
			It("returns ErrEmptyKey", func() {
				_, _, err := store.Lookup(ctx, "")
				Expect(err).To(MatchError(ErrEmptyKey))
			})
		})

		When("the index fails", func() {
			It("returns a storage error", func() {
				setupErr := errors.New("index down")
				store = NewStore(&failingIndex{Index: index, getErr: setupErr}, storage)
				_, _, err := store.Lookup(ctx, key)
				Expect(err).To(MatchError(ErrStorage))
				Expect(err).To(MatchError(setupErr))
			})
		})
	})

	Describe("Put", func() {
		var (
			entry   *CachedImage
			created bool
			err     error
		)

		JustBeforeEach(func() {
			entry, created, err = store.Put(ctx, key, pngData, "image/png")
		})

		When("the key is new", func() {
			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("reports the entry as created", func() {
				Expect(created).To(BeTrue())
			})

			It("names the object after the key", func() {
				Expect(entry.ObjectName).To(Equal("cards/pokemon%3Acharizard_ex%3Aobsidian_flames%3A125_197/obj-1.png"))
			})

			It("returns the public URL", func() {
				Expect(entry.URL).To(Equal("http://cards.test/images/cards/pokemon%253Acharizard_ex%253Aobsidian_flames%253A125_197/obj-1.png"))
			})

			It("writes the object", func() {
				data, getErr := storage.Get(ctx, entry.ObjectName)
				Expect(getErr).NotTo(HaveOccurred())
				Expect(data).To(Equal(pngData))
			})

			It("makes the key visible to Lookup", func() {
				found, ok, lookupErr := store.Lookup(ctx, key)
				Expect(lookupErr).NotTo(HaveOccurred())
				Expect(ok).To(BeTrue())
				Expect(found.URL).To(Equal(entry.URL))
			})
		})

		When("the key is already stored", func() {
			var first *CachedImage

			BeforeEach(func() {
				var putErr error
				first, _, putErr = store.Put(ctx, key, []byte("\x89PNG\r\n\x1a\nfirst"), "image/png")
				Expect(putErr).NotTo(HaveOccurred())
			})

			It("returns the existing URL", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(entry.URL).To(Equal(first.URL))
			})

			It("reports the entry as reused", func() {
				Expect(created).To(BeFalse())
			})

			It("does not upload again", func() {
				names, listErr := storage.List(ctx, "cards/")
				Expect(listErr).NotTo(HaveOccurred())
				Expect(names).To(HaveLen(1))
			})

			It("does not overwrite the first object", func() {
				data, getErr := storage.Get(ctx, first.ObjectName)
				Expect(getErr).NotTo(HaveOccurred())
				Expect(string(data)).To(HaveSuffix("first"))
			})
		})

		When("the data is empty", func() {
			BeforeEach(func() {
				pngData = nil
			})

			It("returns ErrEmptyImage", func() {
				Expect(err).To(MatchError(ErrEmptyImage))
			})
		})

		When("the object store fails", func() {
			BeforeEach(func() {
				store = NewStore(index, &failingStorage{Storage: storage, saveErr: errors.New("disk full")})
			})

			It("returns a storage error", func() {
				Expect(err).To(MatchError(ErrStorage))
			})

			It("does not index the key", func() {
				_, found, _ := store.Lookup(ctx, key)
				Expect(found).To(BeFalse())
			})
		})

		When("the index write fails", func() {
			BeforeEach(func() {
				store = NewStore(&failingIndex{Index: index, insertErr: errors.New("index down")}, storage)
			})

			It("returns a storage error", func() {
				Expect(err).To(MatchError(ErrStorage))
			})

			It("removes the uploaded object", func() {
				names, listErr := storage.List(ctx, "cards/")
				Expect(listErr).NotTo(HaveOccurred())
				Expect(names).To(BeEmpty())
			})
		})

		When("another writer wins the index race", func() {
			BeforeEach(func() {
				Expect(index.Insert(ctx, &CachedImage{Key: key, URL: "http://cards.test/images/winner.png", ObjectName: "winner.png"})).To(Succeed())
				// Lookup misses, Insert then sees the winner.
				store = NewStore(&raceIndex{Index: index}, storage)
			})

			It("returns the winner's URL", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(entry.URL).To(Equal("http://cards.test/images/winner.png"))
			})

			It("reports the entry as reused", func() {
				Expect(created).To(BeFalse())
			})

			It("removes its own upload", func() {
				names, listErr := storage.List(ctx, "cards/")
				Expect(listErr).NotTo(HaveOccurred())
				Expect(names).To(BeEmpty())
			})
		})
	})

	Describe("concurrent first-time Puts", func() {
		It("converge on one stored object and one URL", func() {
			const writers = 8
			urls := make([]string, writers)
			createdCount := 0
			var (
				mu sync.Mutex
				wg sync.WaitGroup
			)
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func(i int) {
					defer GinkgoRecover()
					defer wg.Done()
					entry, created, err := store.Put(ctx, key, pngData, "image/png")
					Expect(err).NotTo(HaveOccurred())
					mu.Lock()
					defer mu.Unlock()
					urls[i] = entry.URL
					if created {
						createdCount++
					}
				}(i)
			}
			wg.Wait()

			for _, u := range urls {
				Expect(u).To(Equal(urls[0]))
			}
			Expect(createdCount).To(Equal(1))
			names, err := storage.List(ctx, "cards/")
			Expect(err).NotTo(HaveOccurred())
			Expect(names).To(HaveLen(1))
		})
	})
})

// raceIndex hides the first Get so Put proceeds to upload as if it lost a race
type raceIndex struct {
	Index
	mu    sync.Mutex
	calls int
}

func (r *raceIndex) Get(ctx context.Context, key cardkey.Key) (*CachedImage, error) {
	r.mu.Lock()
	r.calls++
	first := r.calls == 1
	r.mu.Unlock()
	if first {
		return nil, ErrNotFound
	}
	return r.Index.Get(ctx, key)
}

var _ = Describe("object names", func() {
	It("round trips keys through the object name", func() {
		for _, key := range []cardkey.Key{
			"pokemon:charizard_ex:obsidian_flames:125_197",
			"pokemon:pid:12345",
			"magic:pid:abc/def 1",
			"pokemon:pikachu::",
		} {
			recovered, ok := keyFromObjectName(objectName(key, "id", "image/jpeg"))
			Expect(ok).To(BeTrue())
			Expect(recovered).To(Equal(key))
		}
	})

	It("rejects names outside the cards prefix", func() {
		_, ok := keyFromObjectName("avatars/x.png")
		Expect(ok).To(BeFalse())
	})

	It("rejects names without a key directory", func() {
		_, ok := keyFromObjectName("cards/x.png")
		Expect(ok).To(BeFalse())
	})
})

var _ = Describe("detectContentType", func() {
	It("trusts an image mime hint", func() {
		Expect(detectContentType([]byte("x"), "IMAGE/JPEG; q=1")).To(Equal("image/jpeg"))
	})

	It("sniffs the data when the hint is not an image type", func() {
		Expect(detectContentType([]byte("\x89PNG\r\n\x1a\nrest"), "application/octet-stream")).To(Equal("image/png"))
	})
})
