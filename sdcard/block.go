package sdcard

import (
	"fmt"
)

func (d *Device) checkTransfer(buf []byte, count int) error {
	if err := d.checkReady(); err != nil {
		return err
	}
	if count < 1 || count > len(buf)/BLOCK_SIZE {
		return fmt.Errorf("%w: %d blocks into %d byte buffer", ErrInvalidParameter, count, len(buf))
	}
	return nil
}

// ReadBlocks reads count 512-byte blocks starting at sector into dst.
func (d *Device) ReadBlocks(dst []byte, sector uint32, count int) (err error) {
	if err := d.checkTransfer(dst, count); err != nil {
		return err
	}
	defer d.release(&err)

	addr := d.address(sector)
	if count == 1 {
		r1, err := d.command(CMD17, addr, CRC_DUMMY)
		if err := expect(CMD17, false, r1, err); err != nil {
			return err
		}
		return d.receivePacket(dst[:BLOCK_SIZE])
	}

	r1, err := d.command(CMD18, addr, CRC_DUMMY)
	err = expect(CMD18, false, r1, err)
	for i := 0; i < count && err == nil; i++ {
		err = d.receivePacket(dst[i*BLOCK_SIZE : (i+1)*BLOCK_SIZE])
		if err != nil {
			err = fmt.Errorf("block %d of %d: %w", i+1, count, err)
		}
	}
	// The card keeps streaming until told to stop, whatever happened above.
	if _, serr := d.command(CMD12, 0, CRC_DUMMY); err == nil {
		err = serr
	}
	return err
}

// WriteBlocks writes count 512-byte blocks from src starting at sector.
func (d *Device) WriteBlocks(src []byte, sector uint32, count int) (err error) {
	if err := d.checkTransfer(src, count); err != nil {
		return err
	}
	defer d.release(&err)

	addr := d.address(sector)
	if count == 1 {
		r1, err := d.command(CMD24, addr, CRC_DUMMY)
		if err := expect(CMD24, false, r1, err); err != nil {
			return err
		}
		return d.sendPacket(TOKEN_START, src[:BLOCK_SIZE])
	}

	if d.typ != TypeMMC {
		// Pre-erase hint; the write goes ahead even if the card refuses it.
		r1, err := d.appCommand(ACMD23, uint32(count))
		if err := expect(ACMD23, true, r1, err); err != nil {
			d.log.WithError(err).Debug("pre-erase refused")
		}
	}
	r1, err := d.command(CMD25, addr, CRC_DUMMY)
	if err := expect(CMD25, false, r1, err); err != nil {
		return err
	}
	for i := 0; i < count; i++ {
		err = d.sendPacket(TOKEN_MULTI_WRITE, src[i*BLOCK_SIZE:(i+1)*BLOCK_SIZE])
		if err != nil {
			err = fmt.Errorf("block %d of %d: %w", i+1, count, err)
			break
		}
	}
	if serr := d.sendPacket(TOKEN_STOP, nil); err == nil {
		err = serr
	}
	return err
}

// receivePacket waits for the start token and reads one data packet,
// discarding its CRC.
func (d *Device) receivePacket(buf []byte) error {
	if err := d.bus.Select(true); err != nil {
		return err
	}
	if err := d.waitFor(d.cfg.DataToken, TOKEN_START); err != nil {
		return fmt.Errorf("wait for data token: %w", err)
	}
	if err := d.receive(buf); err != nil {
		return err
	}
	var crc [2]byte
	return d.receive(crc[:])
}

// sendPacket waits until the card isn't busy and sends one data packet.
// The stop token goes out on its own, with no payload or response.
func (d *Device) sendPacket(token byte, data []byte) error {
	if err := d.waitFor(d.cfg.NotBusy, 0xFF); err != nil {
		return fmt.Errorf("wait for card not busy: %w", err)
	}
	if _, err := d.bus.Exchange(token); err != nil {
		return err
	}
	if token == TOKEN_STOP {
		return nil
	}
	for _, b := range data {
		if _, err := d.bus.Exchange(b); err != nil {
			return err
		}
	}
	// CRC is ignored in SPI mode.
	for i := 0; i < 2; i++ {
		if _, err := d.bus.Exchange(0xFF); err != nil {
			return err
		}
	}
	resp, err := d.bus.Exchange(0xFF)
	if err != nil {
		return err
	}
	if resp&DATA_RESPONSE_MASK != DATA_OK {
		d.log.WithField("response", fmt.Sprintf("0x%02x", resp)).Warn("data packet refused")
		return &DataResponseError{Response: resp}
	}
	return nil
}

// release deselects the card, keeping the first error.
func (d *Device) release(err *error) {
	if serr := d.bus.Select(false); *err == nil {
		*err = serr
	}
}
