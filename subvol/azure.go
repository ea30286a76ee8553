package subvol

import (
	"context"
	"io"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	"github.com/replifs/afr/fops"
)

// Azure is a CSH backend over Azure Blob Storage, one blob per GFID,
// exercising the azcore/azblob SDK pair the examples' cloud tooling links
// against.
type Azure struct {
	fops.NotImplementedDispatcher

	name      string
	container string
	client    *azblob.Client

	mu     sync.Mutex
	nextFD fops.FileHandle
	byFD   map[fops.FileHandle]fops.GFID
}

func NewAzure(name, accountURL, container string, cred azcore.TokenCredential) (*Azure, error) {
	client, err := azblob.NewClient(accountURL, cred, nil)
	if err != nil {
		return nil, err
	}
	return &Azure{name: name, container: container, client: client, byFD: make(map[fops.FileHandle]fops.GFID)}, nil
}

func (a *Azure) Name() string { return a.name }

func (a *Azure) Ping(ctx context.Context) error {
	pager := a.client.NewListBlobsFlatPager(a.container, nil)
	_, err := pager.NextPage(ctx)
	return err
}

func (a *Azure) Close() error { return nil }

func (a *Azure) blobName(gfid fops.GFID) string { return "objects/" + gfid.String() }

func (a *Azure) Open(ctx context.Context, op *fops.OpenOp) error {
	a.mu.Lock()
	a.nextFD++
	fd := a.nextFD
	a.byFD[fd] = op.Loc.GFID
	a.mu.Unlock()
	op.FD = fd
	return nil
}

func (a *Azure) Create(ctx context.Context, op *fops.CreateOp) error {
	a.mu.Lock()
	a.nextFD++
	fd := a.nextFD
	a.byFD[fd] = op.Loc.GFID
	a.mu.Unlock()
	op.FD = fd
	return nil
}

func (a *Azure) Release(ctx context.Context, op *fops.ReleaseOp) error {
	a.mu.Lock()
	delete(a.byFD, op.FD)
	a.mu.Unlock()
	return nil
}

func (a *Azure) gfidFor(fd fops.FileHandle) fops.GFID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.byFD[fd]
}

func (a *Azure) Stat(ctx context.Context, op *fops.StatOp) error {
	props, err := a.client.ServiceClient().NewContainerClient(a.container).
		NewBlobClient(a.blobName(op.Loc.GFID)).GetProperties(ctx, nil)
	if err != nil {
		op.Reply.Errno = fops.XENOENT
		return nil
	}
	var size int64
	if props.ContentLength != nil {
		size = *props.ContentLength
	}
	op.Reply.Stat = fops.Stat{GFID: op.Loc.GFID, Size: size}
	return nil
}

func (a *Azure) Readv(ctx context.Context, op *fops.ReadvOp) error {
	resp, err := a.client.DownloadStream(ctx, a.container, a.blobName(a.gfidFor(op.FD)), &azblob.DownloadStreamOptions{
		Range: azblob.HTTPRange{Offset: op.Offset, Count: int64(op.Size)},
	})
	if err != nil {
		op.Reply.Errno = fops.XEIO
		return nil
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		op.Reply.Errno = fops.XEIO
		return nil
	}
	op.Data = data
	return nil
}

func (a *Azure) Writev(ctx context.Context, op *fops.WritevOp) error {
	_, err := a.client.UploadBuffer(ctx, a.container, a.blobName(a.gfidFor(op.FD)), op.Data, nil)
	if err != nil {
		op.Reply.Errno = fops.XEIO
		return nil
	}
	op.Written = len(op.Data)
	return nil
}

func (a *Azure) Unlink(ctx context.Context, op *fops.UnlinkOp) error {
	_, err := a.client.DeleteBlob(ctx, a.container, a.blobName(op.Loc.GFID), nil)
	if err != nil {
		op.Reply.Errno = fops.XEIO
	}
	return nil
}

// Setxattr/Getxattr use blob metadata, the same closest-analog approach the
// S3 and GCS backends take for carrying the pending-vector xattrs.
func (a *Azure) Setxattr(ctx context.Context, op *fops.SetxattrOp) error {
	blob := a.client.ServiceClient().NewContainerClient(a.container).NewBlobClient(a.blobName(op.Loc.GFID))
	props, err := blob.GetProperties(ctx, nil)
	if err != nil {
		op.Reply.Errno = fops.XENOENT
		return nil
	}
	meta := make(map[string]*string, len(props.Metadata)+1)
	for k, v := range props.Metadata {
		meta[k] = v
	}
	val := string(op.Value)
	meta[metadataKey(op.Name)] = &val
	if _, err := blob.SetMetadata(ctx, meta, nil); err != nil {
		op.Reply.Errno = fops.XEIO
	}
	return nil
}

func (a *Azure) Getxattr(ctx context.Context, op *fops.GetxattrOp) error {
	blob := a.client.ServiceClient().NewContainerClient(a.container).NewBlobClient(a.blobName(op.Loc.GFID))
	props, err := blob.GetProperties(ctx, nil)
	if err != nil {
		op.Reply.Errno = fops.XENOENT
		return nil
	}
	if v, ok := props.Metadata[metadataKey(op.Name)]; ok && v != nil {
		op.Value = []byte(*v)
	}
	return nil
}
