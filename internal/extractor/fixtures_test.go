package extractor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nalpari/jppc/internal/crawler"
)

const tepcoMeteredHTML = `<html><body>
<h1>従量電灯B</h1>
<p>2024年4月1日より適用</p>
<table>
<tr><th>基本料金</th><th>料金</th></tr>
<tr><td>10A</td><td>295円24銭</td></tr>
<tr><td>30A</td><td>885円72銭</td></tr>
<tr><td>40A</td><td>1,180円96銭</td></tr>
</table>
<table>
<tr><th>電力量料金</th><th>1kWhあたり</th></tr>
<tr><td>最初の120kWhまで</td><td>29円80銭</td></tr>
<tr><td>120kWhをこえ300kWhまで</td><td>36円40銭</td></tr>
<tr><td>300kWh超過分</td><td>40円49銭</td></tr>
</table>
</body></html>`

const tepcoSmartLifeHTML = `<html><body>
<table>
<tr><th>基本料金</th></tr>
<tr><td>30A</td><td>885円72銭</td></tr>
</table>
<table>
<tr><th>電力量料金</th></tr>
<tr><td>昼間（午前6時～翌午前1時）</td><td>35円76銭</td></tr>
<tr><td>夜間（午前1時～午前6時）</td><td>27円86銭</td></tr>
</table>
</body></html>`

const kepcoMeteredAHTML = `<html><body>
<p>令和5年6月1日実施</p>
<table>
<tr><th>最低料金</th><th>最初の15kWhまで</th><td>522円58銭</td></tr>
</table>
<table>
<caption>電力量料金</caption>
<tr><td>15kWhをこえ120kWhまで</td><td>20円21銭</td></tr>
<tr><td>120kWhをこえ300kWhまで</td><td>25円61銭</td></tr>
<tr><td>300kWhをこえる分</td><td>28円59銭</td></tr>
</table>
</body></html>`

const chugokuFlatHTML = `<html><body>
<table>
<tr><th>最低料金</th><td>最初の15kWhまで</td><td>759円20銭</td></tr>
</table>
<table>
<tr><th>従量料金</th></tr>
<tr><td>最初の120kWhまで</td><td>２８．４３円</td></tr>
<tr><td>120kWhをこえる分</td><td>３２．５０円</td></tr>
</table>
</body></html>`

const chubuMeteredBHTML = `<html><body>
<p>2024年6月1日より実施</p>
<table>
<tr><th colspan="2">基本料金</th></tr>
<tr><td>10A</td><td>321円03銭</td></tr>
<tr><td>30A</td><td>963円10銭</td></tr>
<tr><td>60A</td><td>1,926円20銭</td></tr>
</table>
<table>
<tr><th colspan="2">電力量料金</th></tr>
<tr><td>最初の120kWhまで</td><td>21円20銭</td></tr>
<tr><td>120kWhをこえ300kWhまで</td><td>25円67銭</td></tr>
<tr><td>300kWhをこえる分</td><td>28円62銭</td></tr>
</table>
</body></html>`

const chubuMeteredCHTML = `<html><body>
<table>
<tr><th colspan="2">基本料金</th></tr>
<tr><td>1kVAにつき</td><td>321円03銭</td></tr>
<tr><td>6kVAの場合</td><td>1,926円18銭</td></tr>
</table>
<table>
<tr><th colspan="2">電力量料金</th></tr>
<tr><td>最初の120kWhまで</td><td>21円20銭</td></tr>
<tr><td>120kWhをこえ300kWhまで</td><td>25円67銭</td></tr>
<tr><td>300kWhをこえる分</td><td>28円62銭</td></tr>
</table>
</body></html>`

// The home time row mentions デイタイム in its label and uses a full-width ＠.
const chubuSmartLifeHTML = `<html><body>
<table>
<tr><th colspan="2">基本料金</th></tr>
<tr><td>10kVAまで</td><td>3,210円30銭</td></tr>
</table>
<table>
<tr><th colspan="2">電力量料金</th></tr>
<tr><td>デイタイム（午前10時～午後5時）</td><td>38円80銭</td></tr>
<tr><td>＠ホームタイム（デイタイム以外の午前8時～午後10時）</td><td>28円61銭</td></tr>
<tr><td>ナイトタイム（午後10時～翌午前8時）</td><td>16円52銭</td></tr>
</table>
</body></html>`

const noTablesHTML = `<html><body><p>ページは移動しました</p></body></html>`

// fakeLoader serves canned pages by URL.
type fakeLoader struct {
	mu     sync.Mutex
	pages  map[string]string
	errs   map[string]error
	loaded []string
}

func (f *fakeLoader) Load(_ context.Context, url string) (crawler.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loaded = append(f.loaded, url)
	if err, ok := f.errs[url]; ok {
		return crawler.Page{}, err
	}
	html, ok := f.pages[url]
	if !ok {
		return crawler.Page{}, crawler.NewError(crawler.KindExtraction, "", url, errors.New("http status 404"))
	}
	return crawler.Page{URL: url, FinalURL: url, StatusCode: 200, HTML: []byte(html)}, nil
}

type countingWaiter struct {
	calls int
	err   error
}

func (w *countingWaiter) Wait(context.Context) (time.Duration, error) {
	w.calls++
	return 0, w.err
}

type fakeBlobStore struct {
	mu    sync.Mutex
	paths []string
	fail  bool
}

func (b *fakeBlobStore) PutObject(_ context.Context, path, _ string, _ []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fail {
		return "", errors.New("bucket unavailable")
	}
	b.paths = append(b.paths, path)
	return fmt.Sprintf("mem://%s", path), nil
}
