package imagecache

import (
	"context"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("LocalStorage", func() {
	var (
		tmpDir  string
		storage *LocalStorage
		ctx     context.Context
	)

	BeforeEach(func() {
		tmpDir = GinkgoT().TempDir()
		var err error
		storage, err = NewLocalStorage(tmpDir, "http://localhost:8080/")
		Expect(err).NotTo(HaveOccurred())
		ctx = context.Background()
	})

	Describe("Save", func() {
		It("writes nested objects to disk", func() {
			Expect(storage.Save(ctx, "cards/k/a.png", []byte("png"), "image/png")).To(Succeed())
			Expect(filepath.Join(tmpDir, "cards", "k", "a.png")).To(BeAnExistingFile())
		})

		It("cannot escape the base directory", func() {
			Expect(storage.Save(ctx, "../../escape.png", []byte("png"), "image/png")).To(Succeed())
			Expect(filepath.Join(tmpDir, "escape.png")).To(BeAnExistingFile())
		})
	})

	Describe("Get", func() {
		When("the object exists", func() {
			BeforeEach(func() {
				Expect(storage.Save(ctx, "cards/k/a.png", []byte("png bytes"), "image/png")).To(Succeed())
			})

			It("returns its data", func() {
				data, err := storage.Get(ctx, "cards/k/a.png")
				Expect(err).NotTo(HaveOccurred())
				Expect(string(data)).To(Equal("png bytes"))
			})
		})

		When("the object does not exist", func() {
			It("returns an error", func() {
				_, err := storage.Get(ctx, "cards/missing.png")
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("Delete", func() {
		It("removes the object", func() {
			Expect(storage.Save(ctx, "cards/k/a.png", []byte("png"), "image/png")).To(Succeed())
			Expect(storage.Delete(ctx, "cards/k/a.png")).To(Succeed())
			Expect(filepath.Join(tmpDir, "cards", "k", "a.png")).NotTo(BeAnExistingFile())
		})

		It("fails for a missing object", func() {
			Expect(storage.Delete(ctx, "cards/missing.png")).NotTo(Succeed())
		})
	})

	Describe("List", func() {
		BeforeEach(func() {
			Expect(storage.Save(ctx, "cards/b/2.png", []byte("2"), "image/png")).To(Succeed())
			Expect(storage.Save(ctx, "cards/a/1.png", []byte("1"), "image/png")).To(Succeed())
			Expect(storage.Save(ctx, "other/x.png", []byte("x"), "image/png")).To(Succeed())
		})

		It("returns sorted names under the prefix", func() {
			names, err := storage.List(ctx, "cards/")
			Expect(err).NotTo(HaveOccurred())
			Expect(names).To(Equal([]string{"cards/a/1.png", "cards/b/2.png"}))
		})
	})

	Describe("URL", func() {
		It("points at the images route", func() {
			Expect(storage.URL("cards/a/1.png")).To(Equal("http://localhost:8080/images/cards/a/1.png"))
		})

		It("escapes object names so they survive a round trip", func() {
			Expect(storage.URL("cards/pokemon%3Apid%3A1/x y.png")).To(Equal("http://localhost:8080/images/cards/pokemon%253Apid%253A1/x%20y.png"))
		})
	})
})
